package leads

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"whatsapp-crm/internal/crm"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/phone"
	"whatsapp-crm/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mimics crm.Store query semantics in memory.
type fakeStore struct {
	partners []models.Partner
	leads    []models.Lead
	nextID   uint
	queries  []crm.PhoneQuery
	findErr  error
}

func digits(raw string) string {
	n, err := phone.Normalize(raw)
	if err != nil {
		return ""
	}
	return n.Digits
}

func matches(q crm.PhoneQuery, mobile, phoneValue string) bool {
	check := func(raw string) bool {
		if len(q.Values) > 0 {
			for _, v := range q.Values {
				if v == raw {
					return true
				}
			}
			return false
		}
		d := digits(raw)
		return d != "" && strings.HasSuffix(d, q.Tail)
	}
	switch q.Column {
	case crm.ByMobile:
		return check(mobile)
	case crm.ByPhone:
		return check(phoneValue)
	default:
		return check(mobile) || check(phoneValue)
	}
}

func (f *fakeStore) FindPartner(_ context.Context, q crm.PhoneQuery) (*models.Partner, error) {
	f.queries = append(f.queries, q)
	if f.findErr != nil {
		return nil, f.findErr
	}
	var hits []models.Partner
	for _, p := range f.partners {
		if matches(q, p.Mobile, p.Phone) {
			hits = append(hits, p)
		}
	}
	if len(hits) == 0 {
		return nil, crm.ErrNotFound
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	return &hits[0], nil
}

func (f *fakeStore) FindLead(_ context.Context, q crm.PhoneQuery) (*models.Lead, error) {
	return f.newest(func(l models.Lead) bool { return matches(q, l.Mobile, l.Phone) })
}

func (f *fakeStore) LatestLeadForPartner(_ context.Context, partnerID uint) (*models.Lead, error) {
	return f.newest(func(l models.Lead) bool { return l.PartnerID != nil && *l.PartnerID == partnerID })
}

func (f *fakeStore) newest(keep func(models.Lead) bool) (*models.Lead, error) {
	var hits []models.Lead
	for _, l := range f.leads {
		if keep(l) {
			hits = append(hits, l)
		}
	}
	if len(hits) == 0 {
		return nil, crm.ErrNotFound
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	return &hits[0], nil
}

func (f *fakeStore) CreateLead(_ context.Context, lead *models.Lead) error {
	f.nextID++
	lead.ID = 1000 + f.nextID
	lead.CreatedAt = time.Now()
	f.leads = append(f.leads, *lead)
	return nil
}

func uintPtr(v uint) *uint { return &v }

func mustNumber(t *testing.T, raw string) phone.Number {
	t.Helper()
	n, err := phone.Normalize(raw)
	require.NoError(t, err)
	return n
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestFindViaPartnerTailMatch(t *testing.T) {
	store := &fakeStore{
		partners: []models.Partner{{ID: 1, Name: "Mona", Mobile: "+201001234567", CreatedAt: base}},
		leads: []models.Lead{
			{ID: 10, Name: "older", PartnerID: uintPtr(1), CreatedAt: base},
			{ID: 11, Name: "newer", PartnerID: uintPtr(1), CreatedAt: base.Add(time.Hour)},
		},
	}
	m := NewMatcher(store, logging.New("error"))

	res, err := m.FindOrCreate(context.Background(), mustNumber(t, "201001234567"))
	require.NoError(t, err)
	assert.Equal(t, uint(11), res.Lead.ID)
	assert.Equal(t, uint(1), res.Partner.ID)
	assert.False(t, res.Created())
	assert.Len(t, store.leads, 2, "no lead created")
}

func TestPartnerCascadeOrder(t *testing.T) {
	store := &fakeStore{
		partners: []models.Partner{
			{ID: 1, Phone: "+201001234567", CreatedAt: base.Add(time.Hour)},
			{ID: 2, Mobile: "+201001234567", CreatedAt: base},
		},
	}
	m := NewMatcher(store, logging.New("error"))

	partner, tag, err := m.MatchPartner(context.Background(), mustNumber(t, "+201001234567"))
	require.NoError(t, err)
	assert.Equal(t, uint(2), partner.ID, "mobile exact match beats a newer phone match")
	assert.Equal(t, MatchPartnerMobile, tag)

	store.partners = store.partners[:1]
	partner, tag, err = m.MatchPartner(context.Background(), mustNumber(t, "+201001234567"))
	require.NoError(t, err)
	assert.Equal(t, uint(1), partner.ID)
	assert.Equal(t, MatchPartnerPhone, tag)
}

func TestFindFallsBackToLeadFields(t *testing.T) {
	store := &fakeStore{
		leads: []models.Lead{
			{ID: 20, Name: "exact", Mobile: "+201001234567", CreatedAt: base},
			{ID: 21, Name: "tail", Phone: "0100 123 4567", CreatedAt: base.Add(time.Hour)},
		},
	}
	m := NewMatcher(store, logging.New("error"))

	res, err := m.Find(context.Background(), mustNumber(t, "+201001234567"))
	require.NoError(t, err)
	assert.Equal(t, uint(20), res.Lead.ID, "exact match wins over a newer tail match")
	assert.Equal(t, MatchLeadExact, res.MatchedBy)

	store.leads = store.leads[1:]
	res, err = m.Find(context.Background(), mustNumber(t, "+201001234567"))
	require.NoError(t, err)
	assert.Equal(t, uint(21), res.Lead.ID)
	assert.Equal(t, MatchLeadTail, res.MatchedBy)
}

func TestFindOrCreateCreatesLeadForUnknownSender(t *testing.T) {
	store := &fakeStore{}
	m := NewMatcher(store, logging.New("error"))

	res, err := m.FindOrCreate(context.Background(), mustNumber(t, "201001234567"))
	require.NoError(t, err)
	assert.True(t, res.Created())
	assert.Contains(t, res.Lead.Name, "+201001234567")
	assert.Equal(t, "+201001234567", res.Lead.Phone)
	assert.Nil(t, res.Lead.PartnerID)

	again, err := m.FindOrCreate(context.Background(), mustNumber(t, "201001234567"))
	require.NoError(t, err)
	assert.False(t, again.Created(), "replayed delivery reuses the lead")
	assert.Equal(t, res.Lead.ID, again.Lead.ID)
	assert.Len(t, store.leads, 1)
}

func TestCreateLinksPartnerWithoutLeads(t *testing.T) {
	store := &fakeStore{partners: []models.Partner{{ID: 5, Mobile: "+201001234567", CreatedAt: base}}}
	m := NewMatcher(store, logging.New("error"))

	res, err := m.FindOrCreate(context.Background(), mustNumber(t, "+201001234567"))
	require.NoError(t, err)
	assert.True(t, res.Created())
	require.NotNil(t, res.Lead.PartnerID)
	assert.Equal(t, uint(5), *res.Lead.PartnerID)
}

func TestConcurrentFirstContactsCanDuplicate(t *testing.T) {
	store := &fakeStore{}
	m := NewMatcher(store, logging.New("error"))
	ctx := context.Background()
	n := mustNumber(t, "+201001234567")

	// Both deliveries search before either creates.
	_, errA := m.Find(ctx, n)
	_, errB := m.Find(ctx, n)
	require.ErrorIs(t, errA, crm.ErrNotFound)
	require.ErrorIs(t, errB, crm.ErrNotFound)

	_, err := m.Create(ctx, n, nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, n, nil)
	require.NoError(t, err)

	assert.Len(t, store.leads, 2, "search-then-create is not serialized")
}

func TestShortNumbersSkipTailMatching(t *testing.T) {
	store := &fakeStore{}
	m := NewMatcher(store, logging.New("error"))

	_, err := m.Find(context.Background(), mustNumber(t, "12345678"))
	assert.ErrorIs(t, err, crm.ErrNotFound)
	for _, q := range store.queries {
		assert.Empty(t, q.Tail)
	}

	_, err = m.MatchPartnerByTail(context.Background(), mustNumber(t, "12345678"))
	assert.ErrorIs(t, err, crm.ErrNotFound)
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("db down")
	m := NewMatcher(&fakeStore{findErr: boom}, logging.New("error"))

	_, err := m.FindOrCreate(context.Background(), mustNumber(t, "+201001234567"))
	assert.ErrorIs(t, err, boom)
}
