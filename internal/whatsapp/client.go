package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var graphTracer = otel.Tracer("whatsapp-crm.internal.whatsapp.graph")

// maxTemplatePages bounds how many pages of templates one listing follows.
const maxTemplatePages = 50

type Client struct {
	Config     *config.Config
	HTTPClient *http.Client
	logger     *logging.Logger
}

func NewClient(cfg *config.Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{Config: cfg, HTTPClient: &http.Client{}, logger: logger}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Video            *MediaObj    `json:"video,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"` // For documents
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type          string    `json:"type"`
	ParameterName string    `json:"parameter_name,omitempty"` // named body placeholders
	Text          string    `json:"text,omitempty"`
	Image         *MediaObj `json:"image,omitempty"`
	Video         *MediaObj `json:"video,omitempty"`
	Document      *MediaObj `json:"document,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// --- Errors ---

// APIError is a non-success response from the Graph API.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
	Code       int
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Details != "" {
		return fmt.Sprintf("whatsapp: API error %d: %s (%s)", e.StatusCode, msg, e.Details)
	}
	return fmt.Sprintf("whatsapp: API error %d: %s", e.StatusCode, msg)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Message   string `json:"message"`
			Code      int    `json:"code"`
			ErrorData struct {
				Details string `json:"details"`
			} `json:"error_data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
		apiErr.Details = envelope.Error.ErrorData.Details
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// --- Helper Functions ---

func (c *Client) graphURL(parts ...string) string {
	base := strings.TrimRight(c.Config.GraphBaseURL, "/")
	return base + "/" + c.Config.APIVersion + "/" + strings.Join(parts, "/")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// do sends req with the bearer token and returns the response body, turning
// any status >= 400 into an *APIError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.Config.WhatsAppToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func recordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// --- Messaging Methods ---

// SendRawMessage posts msg to the phone number's messages edge and returns
// the provider message id.
func (c *Client) SendRawMessage(ctx context.Context, msg GenericMessage) (string, error) {
	ctx, span := graphTracer.Start(ctx, "whatsapp.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.to", msg.To),
		attribute.String("whatsapp.type", msg.Type),
	)

	if err := c.Config.RequireSendCredentials(); err != nil {
		return "", err
	}
	msg.MessagingProduct = "whatsapp"
	if msg.RecipientType == "" {
		msg.RecipientType = "individual"
	}

	ctx, cancel := withTimeout(ctx, c.Config.SendTimeout)
	defer cancel()

	body, err := c.sendJSON(ctx, http.MethodPost, c.graphURL(c.Config.PhoneNumberID, "messages"), msg)
	if err != nil {
		recordSpanError(span, err)
		c.logger.Warn("whatsapp: send failed", "to", msg.To, "type", msg.Type, "error", err)
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("whatsapp: decode send response: %w", err)
	}
	id := ""
	if len(parsed.Messages) > 0 {
		id = parsed.Messages[0].ID
	}
	c.logger.Info("whatsapp: message sent", "to", msg.To, "type", msg.Type, "message_id", id)
	return id, nil
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.SendRawMessage(ctx, GenericMessage{
		To:   to,
		Type: "text",
		Text: &TextObj{Body: body},
	})
}

// SendMedia sends an uploaded media object. kind is image, video, audio or
// document; documents carry their filename.
func (c *Client) SendMedia(ctx context.Context, to, kind, mediaID, filename string) (string, error) {
	msg := GenericMessage{To: to, Type: kind}
	obj := &MediaObj{ID: mediaID}
	switch kind {
	case "image":
		msg.Image = obj
	case "video":
		msg.Video = obj
	case "audio":
		msg.Audio = obj
	case "document":
		obj.Filename = filename
		msg.Document = obj
	default:
		return "", fmt.Errorf("whatsapp: unsupported media type %q", kind)
	}
	return c.SendRawMessage(ctx, msg)
}

func (c *Client) SendTemplate(ctx context.Context, to string, tpl TemplateObj) (string, error) {
	return c.SendRawMessage(ctx, GenericMessage{
		To:       to,
		Type:     "template",
		Template: &tpl,
	})
}

// --- Media Methods ---

type MediaResponse struct {
	ID string `json:"id"`
}

// MediaMetadata is the lookup result for an inbound media id.
type MediaMetadata struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

func (c *Client) UploadMedia(ctx context.Context, fileData []byte, mimeType, filename string) (*MediaResponse, error) {
	ctx, span := graphTracer.Start(ctx, "whatsapp.upload_media")
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.mime_type", mimeType),
		attribute.Int("whatsapp.size", len(fileData)),
	)

	if err := c.Config.RequireSendCredentials(); err != nil {
		return nil, err
	}
	if limit := c.Config.MaxUploadBytes; limit > 0 && int64(len(fileData)) > limit {
		return nil, fmt.Errorf("whatsapp: %s is %d bytes, over the %d byte upload limit", filename, len(fileData), limit)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(fileData); err != nil {
		return nil, err
	}
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return nil, err
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.Config.MediaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphURL(c.Config.PhoneNumberID, "media"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	respBody, err := c.do(req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var mediaResp MediaResponse
	if err := json.Unmarshal(respBody, &mediaResp); err != nil {
		return nil, fmt.Errorf("whatsapp: decode upload response: %w", err)
	}
	if mediaResp.ID == "" {
		return nil, fmt.Errorf("whatsapp: upload of %s returned no media id", filename)
	}
	return &mediaResp, nil
}

// RetrieveMedia looks up the short-lived download URL and MIME type of a
// media id.
func (c *Client) RetrieveMedia(ctx context.Context, mediaID string) (*MediaMetadata, error) {
	ctx, span := graphTracer.Start(ctx, "whatsapp.media_metadata")
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.media_id", mediaID))

	ctx, cancel := withTimeout(ctx, c.Config.MetadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL(url.PathEscape(mediaID)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var meta MediaMetadata
	if err := json.Unmarshal(resp, &meta); err != nil {
		return nil, fmt.Errorf("whatsapp: decode media metadata: %w", err)
	}
	return &meta, nil
}

// Download fetches media bytes from a URL returned by RetrieveMedia. The
// media host requires the same bearer token.
func (c *Client) Download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	ctx, span := graphTracer.Start(ctx, "whatsapp.media_download")
	defer span.End()

	ctx, cancel := withTimeout(ctx, c.Config.MediaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.Config.WhatsAppToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		recordSpanError(span, err)
		return nil, "", fmt.Errorf("whatsapp: download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		apiErr := parseAPIError(resp.StatusCode, body)
		recordSpanError(span, apiErr)
		return nil, "", apiErr
	}

	reader := io.Reader(resp.Body)
	if limit := c.Config.MaxUploadBytes; limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp: read media: %w", err)
	}
	if limit := c.Config.MaxUploadBytes; limit > 0 && int64(len(data)) > limit {
		return nil, "", fmt.Errorf("whatsapp: media exceeds %d bytes", limit)
	}
	span.SetAttributes(attribute.Int("whatsapp.size", len(data)))
	return data, resp.Header.Get("Content-Type"), nil
}

// --- Template Management Methods ---

// TemplateDefinition is one entry of the business account's template list.
type TemplateDefinition struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Status     string              `json:"status"`
	Category   string              `json:"category"`
	Components []TemplateComponent `json:"components"`
}

type TemplateComponent struct {
	Type    string          `json:"type"`
	Format  string          `json:"format,omitempty"`
	Text    string          `json:"text,omitempty"`
	Example json.RawMessage `json:"example,omitempty"`
}

type templatePage struct {
	Data   []TemplateDefinition `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// GetTemplates lists every template of the business account, following
// paging links.
func (c *Client) GetTemplates(ctx context.Context) ([]TemplateDefinition, error) {
	ctx, span := graphTracer.Start(ctx, "whatsapp.list_templates")
	defer span.End()

	if err := c.Config.RequireTemplateSync(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("fields", "name,language,status,category,components")
	q.Set("limit", "200")
	next := c.graphURL(c.Config.WhatsAppBusinessAccountID, "message_templates") + "?" + q.Encode()

	var all []TemplateDefinition
	for page := 0; next != "" && page < maxTemplatePages; page++ {
		reqCtx, cancel := withTimeout(ctx, c.Config.SendTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, next, nil)
		if err != nil {
			cancel()
			return nil, err
		}
		body, err := c.do(req)
		cancel()
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}

		var parsed templatePage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("whatsapp: decode templates: %w", err)
		}
		all = append(all, parsed.Data...)
		next = parsed.Paging.Next
	}
	span.SetAttributes(attribute.Int("whatsapp.templates", len(all)))
	return all, nil
}
