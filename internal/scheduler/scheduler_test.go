package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"emias_bot/internal/domain"
	"emias_bot/internal/emias"
	"emias_bot/internal/feature/digest"
	"emias_bot/internal/feature/profile"
)

func eligibleRecord(chatID int64) domain.Record {
	oms := "1234567890123456"
	birth := time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)
	return domain.Record{ChatID: chatID, InsuranceNumber: &oms, BirthDate: &birth}
}

func referral(id int64, name string) emias.Referral {
	return emias.Referral{
		ID:        id,
		StartTime: emias.Date{Time: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
		EndTime:   emias.Date{Time: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)},
		ToDoctor:  &emias.ToDoctor{SpecialityName: name},
	}
}

func TestOnboardedChatIsIncludedInNextTick(t *testing.T) {
	store := newMemoryRecords()
	svc := profile.NewService(store, nil, 0, nil)
	ctx := context.Background()

	svc.Start(ctx, 42, 7)
	svc.SetInsurance(ctx, 42, "1234567890123456")

	api := &fakeAPI{referrals: []emias.Referral{referral(1, "Кардиолог")}}
	notifier := &recordingNotifier{}
	poller := NewPoller(store, digest.NewBuilder(api, 2, nil), notifier, nil)

	summary, err := poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if summary.Users != 0 || len(notifier.sent()) != 0 {
		t.Fatalf("expected incomplete record to be skipped, got %+v and %d messages", summary, len(notifier.sent()))
	}

	svc.SetBirthDate(ctx, 42, "01.01.1990")

	summary, err = poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if summary.Users != 1 || summary.Delivered != 1 {
		t.Fatalf("expected one delivered digest, got %+v", summary)
	}

	sent := notifier.sent()
	if len(sent) != 1 || sent[0].chatID != 42 {
		t.Fatalf("expected one message to chat 42, got %+v", sent)
	}
	if !strings.HasPrefix(sent[0].text, "Ваши направления: \n") || !strings.Contains(sent[0].text, "Кардиолог") {
		t.Fatalf("unexpected digest text %q", sent[0].text)
	}
	if sent[0].markup == nil || len(sent[0].markup.InlineKeyboard) != 1 {
		t.Fatalf("expected main keyboard on digest, got %+v", sent[0].markup)
	}
	if got := sent[0].markup.InlineKeyboard[0][0].CallbackData; got != "get_referrals" {
		t.Fatalf("expected get_referrals button, got %q", got)
	}
}

func TestRunOnceReportsReferralFailureWithoutDigest(t *testing.T) {
	store := newMemoryRecords(eligibleRecord(5))
	api := &fakeAPI{referralsErr: &emias.TransportError{URL: "https://example.test/?getReferralsInfo", StatusCode: 502}}
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}

	summary, err := NewPoller(store, digest.NewBuilder(api, 1, nil), notifier, nil, WithMetrics(metrics)).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if summary.Failed != 1 || summary.Delivered != 0 {
		t.Fatalf("expected one failed user, got %+v", summary)
	}

	sent := notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("expected only the error notice, got %d messages", len(sent))
	}
	want := "Не удалось получить список направлений по причине: `502`\nhttps://example.test/?getReferralsInfo"
	if sent[0].text != want {
		t.Fatalf("unexpected notice %q", sent[0].text)
	}
	if metrics.userOutcomes()[OutcomeFailed] != 1 {
		t.Fatalf("expected failed outcome, got %v", metrics.userOutcomes())
	}
}

func TestRunOnceSendsProviderFailureNoticesAfterDigest(t *testing.T) {
	store := newMemoryRecords(eligibleRecord(5))
	api := &fakeAPI{
		referrals: []emias.Referral{referral(1, "Кардиолог"), referral(2, "Невролог")},
		errs:      map[int64]error{2: errors.New("connection reset")},
	}
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}

	if _, err := NewPoller(store, digest.NewBuilder(api, 2, nil), notifier, nil, WithMetrics(metrics)).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	sent := notifier.sent()
	if len(sent) != 2 {
		t.Fatalf("expected digest and one notice, got %d messages", len(sent))
	}
	if !strings.Contains(sent[0].text, "- Не удалось получить список врачей.\n") {
		t.Fatalf("expected inline failure in digest, got %q", sent[0].text)
	}
	if sent[1].text != "Не удалось получить список врачей по направлению 2 по причине: `connection reset`" {
		t.Fatalf("unexpected provider notice %q", sent[1].text)
	}
	if metrics.userOutcomes()[OutcomePartial] != 1 {
		t.Fatalf("expected partial outcome, got %v", metrics.userOutcomes())
	}
}

func TestRunOnceBoundsWorkersAndIsolatesSlowUsers(t *testing.T) {
	var records []domain.Record
	for i := int64(1); i <= 6; i++ {
		records = append(records, eligibleRecord(i))
	}
	store := newMemoryRecords(records...)

	builder := &fakeBuilder{
		delay: 20 * time.Millisecond,
		hang:  map[int64]bool{3: true},
	}
	notifier := &recordingNotifier{}

	poller := NewPoller(store, builder, notifier, nil,
		WithWorkers(2),
		WithUserTimeout(50*time.Millisecond),
	)

	summary, err := poller.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if builder.maxInFlight.Load() > 2 {
		t.Fatalf("expected at most 2 users in flight, got %d", builder.maxInFlight.Load())
	}
	if summary.Delivered != 5 || summary.Failed != 1 {
		t.Fatalf("expected slow user to fail alone, got %+v", summary)
	}

	chats := notifier.chats()
	if len(chats) != 6 {
		t.Fatalf("expected a message for every chat, got %v", chats)
	}
	for _, msg := range notifier.sent() {
		if msg.chatID == 3 && !strings.Contains(msg.text, "context deadline exceeded") {
			t.Fatalf("expected timeout notice for chat 3, got %q", msg.text)
		}
	}
}

func TestRunOnceRefreshesGaugesAndTagsRun(t *testing.T) {
	original := newRunID
	newRunID = func() string { return "run-1" }
	t.Cleanup(func() { newRunID = original })

	store := newMemoryRecords(eligibleRecord(1))
	metrics := &recordingMetrics{}
	poller := NewPoller(store, &fakeBuilder{}, &recordingNotifier{}, nil,
		WithStats(stubStats{total: 10, eligible: 4}),
		WithMetrics(metrics),
	)

	summary, err := poller.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if summary.RunID != "run-1" {
		t.Fatalf("expected run id run-1, got %q", summary.RunID)
	}
	if metrics.total != 10 || metrics.eligible != 4 {
		t.Fatalf("expected gauges 10/4, got %d/%d", metrics.total, metrics.eligible)
	}
	if metrics.runs["ok"] != 1 {
		t.Fatalf("expected ok run observation, got %v", metrics.runs)
	}
}

func TestRunOnceReturnsListError(t *testing.T) {
	store := newMemoryRecords()
	store.listErr = errors.New("mongo down")
	metrics := &recordingMetrics{}

	_, err := NewPoller(store, &fakeBuilder{}, &recordingNotifier{}, nil, WithMetrics(metrics)).RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "mongo down") {
		t.Fatalf("expected list error, got %v", err)
	}
	if metrics.runs["error"] != 1 {
		t.Fatalf("expected error run observation, got %v", metrics.runs)
	}
}

func TestRunTicksImmediatelyAndStopsOnCancel(t *testing.T) {
	store := newMemoryRecords(eligibleRecord(1))
	builder := &fakeBuilder{}
	poller := NewPoller(store, builder, &recordingNotifier{}, nil, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for builder.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated ticks, got %d builds", builder.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestDeliverToSendsSingleDigest(t *testing.T) {
	notifier := &recordingNotifier{}
	poller := NewPoller(newMemoryRecords(), &fakeBuilder{}, notifier, nil)

	if err := poller.DeliverTo(context.Background(), eligibleRecord(9)); err != nil {
		t.Fatalf("DeliverTo returned error: %v", err)
	}
	if chats := notifier.chats(); len(chats) != 1 || chats[0] != 9 {
		t.Fatalf("expected one message to chat 9, got %v", chats)
	}
}

func TestRunOnceStaysSilentWhenCancelledMidTick(t *testing.T) {
	store := newMemoryRecords(eligibleRecord(42))
	builder := &fakeBuilder{hang: map[int64]bool{42: true}}
	notifier := &recordingNotifier{}
	poller := NewPoller(store, builder, notifier, nil, WithUserTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for builder.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	summary, err := poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected the interrupted user to count as failed, got %+v", summary)
	}
	if sent := notifier.sent(); len(sent) != 0 {
		t.Fatalf("expected no messages after cancellation, got %+v", sent)
	}
}

func TestDeliverToSkipsIncompleteRecordSilently(t *testing.T) {
	notifier := &recordingNotifier{}
	poller := NewPoller(newMemoryRecords(), digest.NewBuilder(&fakeAPI{}, 1, nil), notifier, nil)

	err := poller.DeliverTo(context.Background(), domain.Record{ChatID: 9})
	if !errors.Is(err, emias.ErrIncompleteRecord) {
		t.Fatalf("expected ErrIncompleteRecord, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Fatalf("expected no messages, got %d", len(notifier.sent()))
	}
}

type memoryRecords struct {
	mu      sync.Mutex
	records map[int64]domain.Record
	listErr error
}

func newMemoryRecords(records ...domain.Record) *memoryRecords {
	m := &memoryRecords{records: map[int64]domain.Record{}}
	for _, r := range records {
		m.records[r.ChatID] = r
	}
	return m
}

func (m *memoryRecords) FindByChatID(ctx context.Context, chatID int64) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[chatID]
	if !ok {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	return r, nil
}

func (m *memoryRecords) CreateForChat(ctx context.Context, chatID, userID int64) (domain.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[chatID]; ok {
		return r, false, nil
	}
	r := domain.Record{ChatID: chatID, UserID: userID}
	m.records[chatID] = r
	return r, true, nil
}

func (m *memoryRecords) UpdateInsurance(ctx context.Context, chatID int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[chatID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	r.InsuranceNumber = &value
	m.records[chatID] = r
	return nil
}

func (m *memoryRecords) UpdateBirthDate(ctx context.Context, chatID int64, value time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[chatID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	r.BirthDate = &value
	m.records[chatID] = r
	return nil
}

func (m *memoryRecords) ListEligible(ctx context.Context) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Record
	for _, r := range m.records {
		if r.Eligible() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

type fakeAPI struct {
	referrals    []emias.Referral
	referralsErr error
	errs         map[int64]error
}

func (f *fakeAPI) FetchReferrals(ctx context.Context, creds emias.Credentials) ([]emias.Referral, error) {
	return f.referrals, f.referralsErr
}

func (f *fakeAPI) FetchDoctorsOrLdps(ctx context.Context, creds emias.Credentials, referralID int64) (emias.Listing, error) {
	if err := f.errs[referralID]; err != nil {
		return emias.Listing{}, err
	}
	return emias.Listing{Kind: emias.KindEmpty}, nil
}

type fakeBuilder struct {
	delay time.Duration
	hang  map[int64]bool

	mu          sync.Mutex
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeBuilder) Build(ctx context.Context, record domain.Record) (digest.Digest, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	if current > f.maxInFlight.Load() {
		f.maxInFlight.Store(current)
	}
	hang := f.hang[record.ChatID]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return digest.Digest{}, ctx.Err()
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return digest.Digest{}, ctx.Err()
	}
	return digest.Digest{Text: "Ваши направления: \n", Referrals: 0}, nil
}

type sentMessage struct {
	chatID int64
	text   string
	markup *models.InlineKeyboardMarkup
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
}

func (r *recordingNotifier) Notify(ctx context.Context, chatID int64, text string, markup *models.InlineKeyboardMarkup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, sentMessage{chatID: chatID, text: text, markup: markup})
	return nil
}

func (r *recordingNotifier) sent() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.messages...)
}

func (r *recordingNotifier) chats() []int64 {
	var out []int64
	for _, msg := range r.sent() {
		out = append(out, msg.chatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type stubStats struct {
	total, eligible int64
}

func (s stubStats) CountRecords(ctx context.Context) (int64, error)  { return s.total, nil }
func (s stubStats) CountEligible(ctx context.Context) (int64, error) { return s.eligible, nil }

type recordingMetrics struct {
	mu              sync.Mutex
	runs            map[string]int
	users           map[string]int
	total, eligible int64
}

func (m *recordingMetrics) ObservePollRun(outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]int{}
	}
	m.runs[outcome]++
}

func (m *recordingMetrics) ObservePollUser(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = map[string]int{}
	}
	m.users[outcome]++
}

func (m *recordingMetrics) SetRecordCounts(total, eligible int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.eligible = total, eligible
}

func (m *recordingMetrics) userOutcomes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for k, v := range m.users {
		out[k] = v
	}
	return out
}
