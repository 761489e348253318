package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/ordercall/classifier"
	"github.com/room4-2/ordercall/order"
)

// fakeClassifier answers with fixed labels and a queue of identities
type fakeClassifier struct {
	language   classifier.Language
	intent     classifier.Intent
	identities []classifier.Identity
	calls      int
}

func (f *fakeClassifier) ClassifyLanguage(context.Context, string, string) classifier.Language {
	f.calls++
	return f.language
}

func (f *fakeClassifier) ExtractIdentity(context.Context, string) classifier.Identity {
	f.calls++
	if len(f.identities) == 0 {
		return classifier.Identity{}
	}
	id := f.identities[0]
	f.identities = f.identities[1:]
	return id
}

func (f *fakeClassifier) ClassifyConfirmation(context.Context, string) classifier.Intent {
	f.calls++
	return f.intent
}

// downOracle is an oracle that is never reachable
type downOracle struct{}

func (downOracle) ClassifyLanguage(context.Context, string, string) (classifier.Language, error) {
	return "", classifier.ErrUnavailable
}

func (downOracle) ExtractIdentity(context.Context, string) (classifier.Identity, error) {
	return classifier.Identity{}, classifier.ErrUnavailable
}

func (downOracle) ClassifyConfirmation(context.Context, string) (classifier.Intent, error) {
	return "", classifier.ErrUnavailable
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(c Classifier) *Engine {
	return NewEngine(c, WithClock(func() time.Time { return fixedNow }))
}

func testOrder() *order.Record {
	return &order.Record{
		ID: "ORDER-1",
		Customer: order.Customer{
			Name:       "Ahmed Ali",
			NationalID: "880112345",
			Mobile:     "33334444",
		},
		Kind: order.KindNewLine,
		Line: order.Line{Kind: order.LineMobile, SubNumber: "12345678"},
		Financial: order.Financial{
			Type:    order.FinancialInstallment,
			Monthly: 12500,
			VAT:     1875,
			Total:   14375,
		},
		Accessories: []string{"Case"},
	}
}

func process(t *testing.T, e *Engine, st State, rec *order.Record, utterance string) Turn {
	t.Helper()
	turn, err := e.Process(context.Background(), st, rec, utterance)
	require.NoError(t, err)
	require.True(t, turn.State.Checkpoint.Valid())
	return turn
}

func TestGreet(t *testing.T) {
	e := newTestEngine(&fakeClassifier{})
	st := NewState("s1")

	turn := e.Greet(st)
	assert.Equal(t, openingLine, turn.Response)
	assert.Equal(t, CheckpointLanguageSelect, turn.State.Checkpoint)
	require.Len(t, turn.State.Transcript, 1)
	assert.Equal(t, RoleAssistant, turn.State.Transcript[0].Role)
	require.Len(t, turn.Events, 2)
	assert.Equal(t, EventMessage, turn.Events[0].Kind)
	assert.Equal(t, EventSnapshot, turn.Events[1].Kind)

	again := e.Greet(turn.State)
	assert.Equal(t, openingLine, again.Response)
	assert.Empty(t, again.Events)
	assert.Equal(t, turn.State, again.State)
}

func TestProcess_ScenarioNewLineSummary(t *testing.T) {
	c := &fakeClassifier{
		language:   classifier.LanguageEnglish,
		identities: []classifier.Identity{{Name: "ahmed ali", NationalID: "880112345"}},
	}
	e := newTestEngine(c)
	rec := testOrder()

	st := e.Greet(NewState("s1")).State
	st = process(t, e, st, rec, "English please").State
	assert.Equal(t, CheckpointAuth, st.Checkpoint)
	assert.Equal(t, LanguageEnglish, st.Language)

	turn := process(t, e, st, rec, "I'm Ahmed Ali, CPR 880112345")
	assert.Equal(t, CheckpointOrderConfirm, turn.State.Checkpoint)
	assert.True(t, turn.State.Authenticated)
	assert.Contains(t, turn.Response, "ahmed ali")

	turn = process(t, e, turn.State, rec, "ok")
	assert.Contains(t, turn.Response, "12345678")
	assert.Equal(t, CheckpointOrderConfirm, turn.State.Checkpoint)
	assert.True(t, turn.State.OrderConfirmed)
}

func TestProcess_ScenarioArabicConfirmWithClassifierDown(t *testing.T) {
	e := newTestEngine(classifier.NewGateway(classifier.WithOracle(downOracle{})))
	st := NewState("s1")
	st.Checkpoint = CheckpointOrderConfirm
	st.Language = LanguageArabic
	st.OrderConfirmed = true

	turn := process(t, e, st, testOrder(), "نعم")
	assert.Equal(t, CheckpointEligibilityCheck, turn.State.Checkpoint)
	assert.Equal(t, "ممتاز! خلني أشيك استحقاقك...", turn.Response)
}

func TestProcess_ScenarioFinancialBreakdown(t *testing.T) {
	e := newTestEngine(&fakeClassifier{})
	st := NewState("s1")
	st.Checkpoint = CheckpointEligibilityCheck
	st.Language = LanguageEnglish

	turn := process(t, e, st, testOrder(), "go on")
	assert.Equal(t, CheckpointCrossSell, turn.State.Checkpoint)
	for _, want := range []string{"12.500", "0.000", "1.875", "14.375", "Dinars"} {
		assert.Contains(t, turn.Response, want)
	}

	st.Language = LanguageArabic
	turn = process(t, e, st, testOrder(), "تمام")
	assert.Contains(t, turn.Response, "12.500")
	assert.Contains(t, turn.Response, "دينار")
}

func TestProcess_ScenarioIdentityMismatch(t *testing.T) {
	tests := []struct {
		name string
		id   classifier.Identity
	}{
		{"wrong id", classifier.Identity{Name: "Ahmed Ali", NationalID: "999999999"}},
		{"wrong name", classifier.Identity{Name: "Sara Hassan", NationalID: "880112345"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(&fakeClassifier{identities: []classifier.Identity{tt.id}})
			st := NewState("s1")
			st.Checkpoint = CheckpointAuth
			st.Language = LanguageEnglish

			turn := process(t, e, st, testOrder(), "details")
			assert.Equal(t, CheckpointOwnershipCheck, turn.State.Checkpoint)
			assert.False(t, turn.State.Authenticated)

			turn = process(t, e, turn.State, testOrder(), "yes I am his brother")
			assert.Equal(t, CheckpointOrderConfirm, turn.State.Checkpoint)
			assert.False(t, turn.State.Authenticated)
		})
	}
}

func TestProcess_AuthCollectsFieldsAcrossTurns(t *testing.T) {
	c := &fakeClassifier{identities: []classifier.Identity{
		{},
		{Name: "Ahmed"},
		{NationalID: "880112345"},
	}}
	e := newTestEngine(c)
	st := NewState("s1")
	st.Checkpoint = CheckpointAuth
	st.Language = LanguageArabic

	turn := process(t, e, st, testOrder(), "مرحبا")
	assert.Equal(t, "ممكن الاسم الكامل من فضلك؟", turn.Response)
	assert.Equal(t, CheckpointAuth, turn.State.Checkpoint)

	turn = process(t, e, turn.State, testOrder(), "أحمد")
	assert.Equal(t, "تسلم. وممكن رقم الهوية؟", turn.Response)
	assert.Equal(t, "Ahmed", turn.State.CustomerName)

	turn = process(t, e, turn.State, testOrder(), "880112345")
	assert.Equal(t, CheckpointOrderConfirm, turn.State.Checkpoint)
	assert.True(t, turn.State.Authenticated)
	assert.Contains(t, turn.Response, "مشكور Ahmed")
}

func TestProcess_ModificationResetsConfirmation(t *testing.T) {
	c := &fakeClassifier{intent: classifier.IntentModify}
	e := newTestEngine(c)
	st := NewState("s1")
	st.Checkpoint = CheckpointOrderConfirm
	st.Language = LanguageEnglish
	st.OrderConfirmed = true

	turn := process(t, e, st, testOrder(), "no, change the colour")
	assert.Equal(t, CheckpointModification, turn.State.Checkpoint)

	turn = process(t, e, turn.State, testOrder(), "blue instead")
	assert.Equal(t, CheckpointOrderConfirm, turn.State.Checkpoint)
	assert.True(t, turn.State.OrderModified)
	assert.False(t, turn.State.OrderConfirmed)

	// summary is read again before asking for confirmation
	turn = process(t, e, turn.State, testOrder(), "ok")
	assert.Contains(t, turn.Response, "12345678")
	assert.Equal(t, CheckpointOrderConfirm, turn.State.Checkpoint)
}

func TestProcess_RejectGoesToModification(t *testing.T) {
	e := newTestEngine(&fakeClassifier{intent: classifier.IntentReject})
	st := NewState("s1")
	st.Checkpoint = CheckpointOrderConfirm
	st.OrderConfirmed = true

	turn := process(t, e, st, testOrder(), "I don't want it")
	assert.Equal(t, CheckpointModification, turn.State.Checkpoint)
}

func TestProcess_FullCallKeepsLanguage(t *testing.T) {
	c := &fakeClassifier{
		language:   classifier.LanguageEnglish,
		intent:     classifier.IntentConfirm,
		identities: []classifier.Identity{{Name: "Ahmed Ali", NationalID: "880112345"}},
	}
	e := newTestEngine(c)
	rec := testOrder()

	st := e.Greet(NewState("s1")).State
	// marker word wins over the classifier answer
	st = process(t, e, st, rec, "عربي").State
	require.Equal(t, LanguageArabic, st.Language)

	utterances := []string{"english please", "English", "ok", "yes", "go on", "no thanks", "bye", "english"}
	want := []Checkpoint{
		CheckpointOrderConfirm,
		CheckpointOrderConfirm,
		CheckpointEligibilityCheck,
		CheckpointCrossSell,
		CheckpointEKYCSend,
		CheckpointClose,
		CheckpointClose,
		CheckpointClose,
	}
	for i, u := range utterances {
		st = process(t, e, st, rec, u).State
		assert.Equal(t, want[i], st.Checkpoint, "after %q", u)
		assert.Equal(t, LanguageArabic, st.Language, "after %q", u)
	}

	last, ok := st.LastAssistantMessage()
	require.True(t, ok)
	assert.Equal(t, "شكراً لاختيارك زين، مع السلامة.", last)
	// greeting plus two messages per turn
	assert.Len(t, st.Transcript, 1+2*(len(utterances)+1))
}

func TestProcess_CrossSell(t *testing.T) {
	e := newTestEngine(&fakeClassifier{})
	st := NewState("s1")
	st.Checkpoint = CheckpointCrossSell
	st.Language = LanguageEnglish

	turn := process(t, e, st, testOrder(), "OK add them")
	assert.Equal(t, CheckpointEKYCSend, turn.State.Checkpoint)
	assert.Contains(t, turn.Response, "added the accessories")

	turn = process(t, e, st, testOrder(), "not today")
	assert.Equal(t, CheckpointEKYCSend, turn.State.Checkpoint)
	assert.Contains(t, turn.Response, "No problem at all")
}

func TestProcess_CommitmentApprovalStays(t *testing.T) {
	e := newTestEngine(&fakeClassifier{})
	st := NewState("s1")
	st.Checkpoint = CheckpointCommitmentApproval

	turn := process(t, e, st, testOrder(), "please approve")
	assert.Equal(t, CheckpointCommitmentApproval, turn.State.Checkpoint)
	assert.Contains(t, turn.Response, "callback within 24 hours")
}

func TestProcess_Rejections(t *testing.T) {
	e := newTestEngine(&fakeClassifier{})
	st := NewState("s1")

	_, err := e.Process(context.Background(), st, testOrder(), "   ")
	assert.ErrorIs(t, err, ErrMalformedUtterance)

	_, err = e.Process(context.Background(), st, nil, "hello")
	assert.ErrorIs(t, err, ErrMissingOrder)

	st.Checkpoint = "PAYMENT"
	_, err = e.Process(context.Background(), st, testOrder(), "hello")
	assert.ErrorIs(t, err, ErrUnknownCheckpoint)
}

func TestProcess_DoesNotMutateInput(t *testing.T) {
	e := newTestEngine(&fakeClassifier{})
	st := e.Greet(NewState("s1")).State
	st.Transcript = append(make([]Message, 0, 8), st.Transcript...)
	before := st.Clone()

	_ = process(t, e, st, testOrder(), "english")
	assert.Equal(t, before, st)
	// spare capacity of the caller's transcript is left alone
	assert.Empty(t, st.Transcript[:cap(st.Transcript)][1].Text)
}

func TestProcess_Events(t *testing.T) {
	e := newTestEngine(&fakeClassifier{language: classifier.LanguageEnglish})
	st := e.Greet(NewState("s1")).State

	turn := process(t, e, st, testOrder(), "English")
	require.Len(t, turn.Events, 3)

	user, assistant, snap := turn.Events[0], turn.Events[1], turn.Events[2]
	assert.Equal(t, RoleUser, user.Message.Role)
	assert.Equal(t, "English", user.Message.Text)
	assert.Equal(t, CheckpointLanguageSelect, user.Message.Checkpoint)
	assert.Equal(t, fixedNow, user.Message.Timestamp)

	assert.Equal(t, RoleAssistant, assistant.Message.Role)
	assert.Equal(t, CheckpointAuth, assistant.Message.Checkpoint)

	assert.Equal(t, EventSnapshot, snap.Kind)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, Snapshot{Checkpoint: CheckpointAuth, Language: LanguageEnglish}, snap.Snapshot)
}

func TestProcess_FallbackMatchesOracle(t *testing.T) {
	rec := testOrder()
	down := newTestEngine(classifier.NewGateway(classifier.WithOracle(downOracle{})))
	healthy := newTestEngine(&fakeClassifier{language: classifier.LanguageArabic, intent: classifier.IntentModify})

	lang := NewState("s1")
	lang.Checkpoint = CheckpointLanguageSelect
	a := process(t, down, lang, rec, "العربية")
	b := process(t, healthy, lang, rec, "العربية")
	assert.Equal(t, b.State.Snapshot(), a.State.Snapshot())
	assert.Equal(t, b.Response, a.Response)

	confirm := NewState("s1")
	confirm.Checkpoint = CheckpointOrderConfirm
	confirm.OrderConfirmed = true
	a = process(t, down, confirm, rec, "لا، غير اللون")
	b = process(t, healthy, confirm, rec, "لا، غير اللون")
	assert.Equal(t, b.State.Snapshot(), a.State.Snapshot())
	assert.Equal(t, b.Response, a.Response)
}

func TestIdentityMatches(t *testing.T) {
	c := order.Customer{Name: "Ahmed Ali", NationalID: "880112345"}

	assert.True(t, identityMatches(c, "AHMED ALI", "880112345"))
	assert.True(t, identityMatches(c, "Ahmed", "880112345"))
	assert.True(t, identityMatches(c, "Ahmed Ali Hassan", "880112345"))
	assert.False(t, identityMatches(c, "Ahmed", "880112346"))
	assert.False(t, identityMatches(order.Customer{NationalID: "880112345"}, "Ahmed", "880112345"))
}
