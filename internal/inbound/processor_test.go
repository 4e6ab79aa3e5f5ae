package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"whatsapp-crm/internal/crm"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/leads"
	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/metrics"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/internal/window"
	"whatsapp-crm/internal/ws"
	"whatsapp-crm/pkg/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var captureTime = time.Date(2026, 4, 2, 14, 30, 0, 0, time.UTC)

type stubMedia struct {
	file media.File
	err  error
	ids  []string
}

func (s *stubMedia) Fetch(_ context.Context, mediaID, _ string) (media.File, error) {
	s.ids = append(s.ids, mediaID)
	return s.file, s.err
}

type pushed struct {
	userID uint
	event  string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []pushed
}

func (r *recordingNotifier) PushToUser(userID uint, eventType string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pushed{userID, eventType})
}

type memGuard struct {
	seen      map[string]bool
	forgotten []string
}

func (g *memGuard) FirstDelivery(_ context.Context, id string) bool {
	if g.seen == nil {
		g.seen = map[string]bool{}
	}
	if g.seen[id] {
		return false
	}
	g.seen[id] = true
	return true
}

func (g *memGuard) Forget(_ context.Context, id string) error {
	delete(g.seen, id)
	g.forgotten = append(g.forgotten, id)
	return nil
}

type harness struct {
	proc     *Processor
	store    *crm.Store
	db       *gorm.DB
	media    *stubMedia
	notifier *recordingNotifier
	guard    *memGuard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := logging.New("error")
	store := crm.NewStore(db, nil)
	h := &harness{
		store:    store,
		db:       db,
		media:    &stubMedia{},
		notifier: &recordingNotifier{},
		guard:    &memGuard{},
	}
	h.proc = NewProcessor(Options{
		Store:         store,
		Leads:         leads.NewMatcher(store, log),
		Window:        window.NewTracker(store),
		Media:         h.media,
		Notifier:      h.notifier,
		Guard:         h.guard,
		Logger:        log,
		PublicBaseURL: "https://crm.example/",
		Now:           func() time.Time { return captureTime },
	})
	return h
}

func (h *harness) deliver(t *testing.T, body string) Result {
	t.Helper()
	payload, err := ParsePayload([]byte(body))
	require.NoError(t, err)
	return h.proc.Process(context.Background(), payload)
}

func (h *harness) feed(t *testing.T, leadID uint) []models.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), leadID, 10)
	require.NoError(t, err)
	return msgs
}

func textDelivery(id, from, body string) string {
	return fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"contacts":[{"wa_id":%q,"profile":{"name":"Mona"}}],
		"messages":[{"from":%q,"id":%q,"timestamp":"1712068200","type":"text","text":{"body":%q}}]}}]}]}`,
		from, from, id, body)
}

func imageDelivery(id, from string) string {
	return fmt.Sprintf(`{"entry":[{"changes":[{"value":{
		"messages":[{"from":%q,"id":%q,"type":"image","image":{"id":"media-1","mime_type":"image/jpeg","caption":"my card"}}]}}]}]}`,
		from, id)
}

func TestTextFromUnknownSenderCreatesLead(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, textDelivery("wamid.1", "201001234567", "Hi"))
	require.Equal(t, OutcomePosted, res.Outcome)
	assert.True(t, res.Created)

	lead, err := h.store.GetLead(context.Background(), res.LeadID)
	require.NoError(t, err)
	assert.Contains(t, lead.Name, "+201001234567")
	assert.Equal(t, "+201001234567", lead.Phone)
	require.NotNil(t, lead.LastInboundWhatsAppAt)
	assert.True(t, captureTime.Equal(*lead.LastInboundWhatsAppAt))

	msgs := h.feed(t, lead.ID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "Hi")
	assert.Equal(t, models.SubtypeComment, msgs[0].Subtype)
	assert.Equal(t, models.AuthorPublic, msgs[0].AuthorKind)
	assert.Equal(t, "Mona (WhatsApp)", msgs[0].AuthorName)
	assert.True(t, msgs[0].SuppressEmail)
	assert.Equal(t, "wamid.1", msgs[0].ProviderMessageID)
	assert.Empty(t, h.notifier.events, "no followers, nobody to notify")
}

func TestImageWithFailedMetadataLookupStillPostsNote(t *testing.T) {
	h := newHarness(t)
	h.media.err = errors.New("whatsapp: API error 404: media not found")

	res := h.deliver(t, imageDelivery("wamid.2", "201001234567"))
	assert.Equal(t, OutcomeMediaFailed, res.Outcome)
	assert.NotZero(t, res.MessageID)

	msgs := h.feed(t, res.LeadID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "could not be downloaded")
	assert.Contains(t, msgs[0].Body, "my card")
	assert.Empty(t, msgs[0].Attachments)
}

func TestImageStoredAsAttachment(t *testing.T) {
	h := newHarness(t)
	h.media.file = media.File{Data: []byte("jpegdata"), MimeType: "image/jpeg"}

	res := h.deliver(t, imageDelivery("wamid.3", "201001234567"))
	require.Equal(t, OutcomePosted, res.Outcome)
	assert.Equal(t, []string{"media-1"}, h.media.ids)

	msgs := h.feed(t, res.LeadID)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1)
	att := msgs[0].Attachments[0]
	assert.Equal(t, "whatsapp_image_media-1.jpg", att.Name)
	assert.Equal(t, "image/jpeg", att.MimeType)
	assert.Contains(t, msgs[0].Body, fmt.Sprintf(`href="https://crm.example/api/attachments/%d"`, att.ID))
	assert.Contains(t, msgs[0].Body, "my card")

	_, data, err := h.store.OpenAttachment(context.Background(), att.ID)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
}

func TestKnownPartnerNotifiesFollowersAndAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	agent := models.User{Name: "Karim", Login: "karim"}
	follower := models.User{Name: "Sara", Login: "sara"}
	require.NoError(t, h.db.Create(&agent).Error)
	require.NoError(t, h.db.Create(&follower).Error)
	partner := models.Partner{Name: "Mona Adel", Mobile: "+201001234567"}
	require.NoError(t, h.db.Create(&partner).Error)
	lead := models.Lead{Name: "Car insurance", PartnerID: &partner.ID, UserID: &agent.ID}
	require.NoError(t, h.db.Create(&lead).Error)
	require.NoError(t, h.store.AddFollower(ctx, lead.ID, follower.ID))
	require.NoError(t, h.store.AddFollower(ctx, lead.ID, agent.ID))

	res := h.deliver(t, textDelivery("wamid.4", "201001234567", "Any update?"))
	require.Equal(t, OutcomePosted, res.Outcome)
	assert.Equal(t, lead.ID, res.LeadID)
	assert.False(t, res.Created)

	msgs := h.feed(t, lead.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.AuthorPartner, msgs[0].AuthorKind)
	assert.Equal(t, "Mona Adel", msgs[0].AuthorName)
	require.NotNil(t, msgs[0].AuthorPartnerID)
	assert.Equal(t, partner.ID, *msgs[0].AuthorPartnerID)

	for _, uid := range []uint{agent.ID, follower.ID} {
		unread, err := h.store.UnreadNotifications(ctx, uid)
		require.NoError(t, err)
		require.Len(t, unread, 1, "user %d", uid)
		assert.Equal(t, res.MessageID, unread[0].MessageID)
	}
	assert.ElementsMatch(t, []pushed{
		{agent.ID, ws.EventNewMessage}, {agent.ID, ws.EventNotification},
		{follower.ID, ws.EventNewMessage}, {follower.ID, ws.EventNotification},
	}, h.notifier.events)
}

func TestLeadWithoutPartnerGetsLinked(t *testing.T) {
	h := newHarness(t)

	partner := models.Partner{Name: "Mona", Phone: "0100 123 4567"}
	require.NoError(t, h.db.Create(&partner).Error)
	lead := models.Lead{Name: "Website form", Mobile: "+201001234567"}
	require.NoError(t, h.db.Create(&lead).Error)

	res := h.deliver(t, textDelivery("wamid.5", "201001234567", "hello"))
	require.Equal(t, OutcomePosted, res.Outcome)
	assert.Equal(t, lead.ID, res.LeadID)

	got, err := h.store.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PartnerID)
	assert.Equal(t, partner.ID, *got.PartnerID)
	assert.Equal(t, models.AuthorPartner, h.feed(t, lead.ID)[0].AuthorKind)
}

func TestDuplicateDeliveryIsSkipped(t *testing.T) {
	h := newHarness(t)

	first := h.deliver(t, textDelivery("wamid.6", "201001234567", "Hi"))
	require.Equal(t, OutcomePosted, first.Outcome)
	second := h.deliver(t, textDelivery("wamid.6", "201001234567", "Hi"))
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Len(t, h.feed(t, first.LeadID), 1)
	var count int64
	require.NoError(t, h.db.Model(&models.Lead{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEmptyTextTouchesWindowWithoutPosting(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, textDelivery("wamid.7", "201001234567", "   "))
	assert.Equal(t, OutcomeEmpty, res.Outcome)

	lead, err := h.store.GetLead(context.Background(), res.LeadID)
	require.NoError(t, err)
	assert.NotNil(t, lead.LastInboundWhatsAppAt)
	assert.Empty(t, h.feed(t, res.LeadID))
}

func TestDeliveriesWithoutUsableMessage(t *testing.T) {
	h := newHarness(t)

	res := h.deliver(t, `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.x","status":"read"}]}}]}]}`)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res = h.deliver(t, textDelivery("wamid.8", "not a number", "Hi"))
	assert.Equal(t, OutcomeInvalidSender, res.Outcome)

	res = h.deliver(t, `{"entry":[{"changes":[{"value":{"messages":[{"from":"201001234567","id":"wamid.9","type":"image"}]}}]}]}`)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	var count int64
	require.NoError(t, h.db.Model(&models.Lead{}).Count(&count).Error)
	assert.Zero(t, count)
}

type failingLeads struct{}

func (failingLeads) FindOrCreate(context.Context, phone.Number) (leads.Resolution, error) {
	return leads.Resolution{}, errors.New("database is locked")
}

func (failingLeads) MatchPartnerByTail(context.Context, phone.Number) (*models.Partner, error) {
	return nil, crm.ErrNotFound
}

func TestLeadFailureReleasesReplayClaim(t *testing.T) {
	h := newHarness(t)
	h.proc.opts.Leads = failingLeads{}

	res := h.deliver(t, textDelivery("wamid.10", "201001234567", "Hi"))
	assert.Equal(t, OutcomeLeadFailed, res.Outcome)
	assert.Equal(t, []string{"wamid.10"}, h.guard.forgotten)
}

func TestRecipientIDs(t *testing.T) {
	agent := uint(3)
	assert.Equal(t, []uint{1, 3, 5}, recipientIDs([]uint{5, 3, 1, 0}, &agent))
	assert.Equal(t, []uint{}, recipientIDs(nil, nil))
}

func TestTextToHTML(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt;<br/>c", textToHTML(" a <b>\nc "))
	assert.Empty(t, textToHTML("  "))
}

func kindLabels(t *testing.T, reg *prometheus.Registry, family string) map[string]bool {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	kinds := map[string]bool{}
	for _, f := range families {
		if f.GetName() != family {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" {
					kinds[l.GetValue()] = true
				}
			}
		}
	}
	return kinds
}

func TestUnknownTypesShareOneMetricKind(t *testing.T) {
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	h.proc.opts.Metrics = metrics.NewWhatsAppMetrics(reg)

	for i := 0; i < 25; i++ {
		body := fmt.Sprintf(`{"entry":[{"changes":[{"value":{
			"messages":[{"from":"201001234567","id":"wamid.u%d","type":"made_up_%d"}]}}]}]}`, i, i)
		h.deliver(t, body)
	}
	h.deliver(t, `{"entry":[{"changes":[{"value":{"messages":[{"from":"201001234567","id":"wamid.bad","type":"Weird_Type","image":{}}]}}]}]}`)
	h.deliver(t, textDelivery("wamid.t1", "201001234567", "Hi"))

	want := map[string]bool{"other": true, "text": true}
	assert.Equal(t, want, kindLabels(t, reg, "whatsapp_crm_inbound_events_total"))
	assert.Equal(t, want, kindLabels(t, reg, "whatsapp_crm_inbound_webhook_processing_seconds"))
}

func TestProcessingLatencyUsesWallClock(t *testing.T) {
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	h.proc.opts.Metrics = metrics.NewWhatsAppMetrics(reg)

	res := h.deliver(t, textDelivery("wamid.l1", "201001234567", "Hi"))
	require.Equal(t, OutcomePosted, res.Outcome)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() != "whatsapp_crm_inbound_webhook_processing_seconds" {
			continue
		}
		for _, m := range f.GetMetric() {
			found = true
			assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
			assert.Less(t, m.GetHistogram().GetSampleSum(), 60.0)
		}
	}
	assert.True(t, found)
}

func TestMetricKind(t *testing.T) {
	assert.Equal(t, "image", metricKind(KindImage))
	assert.Equal(t, "interactive", metricKind(KindInteractive))
	assert.Equal(t, "other", metricKind(Kind("location")))
	assert.Equal(t, "other", metricKind(Kind("")))
}
