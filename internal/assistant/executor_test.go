package assistant

import (
	"context"
	"errors"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID uint = 1

// countingUsage 按单据仓库实时计数，与 UsageService 的规则一致。
type countingUsage struct {
	docs repository.DocumentRepository
}

func (u countingUsage) GetUserUsageStats(ctx context.Context, userID uint) model.UsageStats {
	inv, _ := u.docs.CountByUser(ctx, model.KindInvoice, userID)
	est, _ := u.docs.CountByUser(ctx, model.KindEstimate, userID)
	return model.NewUsageStats(inv, est)
}

func (u countingUsage) CanUserCreateItem(ctx context.Context, userID uint, isSubscribed bool) bool {
	if isSubscribed {
		return true
	}
	return u.GetUserUsageStats(ctx, userID).CanCreateItem
}

type fakeLogos struct{}

func (fakeLogos) PresignedURL(_ context.Context, objectName string) (string, error) {
	return "https://files.example.com/" + objectName, nil
}

type executorFixture struct {
	docs     repository.DocumentRepository
	clients  repository.ClientRepository
	business repository.BusinessRepository
	exec     *Executor
}

func newExecutorFixture() *executorFixture {
	f := &executorFixture{
		docs:     repository.NewMemoryDocumentRepository(),
		clients:  repository.NewMemoryClientRepository(),
		business: repository.NewMemoryBusinessRepository(),
	}
	search := repository.NewClientSearcher(nil, "clients", f.clients)
	f.exec = NewExecutor(f.docs, f.clients, search, f.business, countingUsage{docs: f.docs}, fakeLogos{})
	return f
}

func (f *executorFixture) seedInvoice(t *testing.T, client string, items ...model.LineItem) *model.Document {
	t.Helper()
	doc := &model.Document{
		UserID:     testUserID,
		Kind:       model.KindInvoice,
		ClientName: client,
		Items:      items,
		Currency:   "USD",
		Status:     model.StatusDraft,
	}
	require.NoError(t, f.docs.Create(context.Background(), doc))
	return doc
}

func call(id, name string, args Args) Call {
	if args == nil {
		args = Args{}
	}
	return Call{ID: id, Name: name, Args: args}
}

func documentView(t *testing.T, res TurnResult) *DocumentView {
	t.Helper()
	require.NotNil(t, res.Data)
	view, ok := res.Data["document"].(*DocumentView)
	require.True(t, ok, "turn result carries no rendered document")
	return view
}

func TestRun_CreateThenStyleInOneTurn(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	cls := Classify("Create an invoice for Mike for $800 and make it purple", noContext)
	run := f.exec.NewRun(testUserID, false, noContext, cls)

	steps := run.Execute(ctx, []Call{
		call("c1", ToolCreateInvoice, Args{"client_name": "Mike", "amount": 800.0}),
		call("c2", ToolSetDocumentColor, Args{"color": "Purple"}),
	})
	require.Len(t, steps, 2)
	assert.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)
	assert.Equal(t, StepSucceeded, steps[1].Status, steps[1].Message)
	assert.Equal(t, 1, steps[0].Index)
	assert.Equal(t, 2, steps[1].Index)

	res := run.Finish(ctx)
	assert.True(t, res.Success)
	view := documentView(t, res)
	assert.Equal(t, "INV-0001", view.Number)
	assert.Equal(t, "purple", view.Color)
	assert.Equal(t, "Mike", view.ClientName)
	assert.Equal(t, 800.0, view.Total)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Services", view.Items[0].Description)

	// 只创建了一张发票
	all, err := f.docs.ListByUser(ctx, model.KindInvoice, testUserID, nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "purple", all[0].Color)

	cc := run.Context()
	assert.Equal(t, model.KindInvoice, cc.LastDocumentType)
	assert.Equal(t, "INV-0001", cc.LastDocumentNumber)
	assert.Equal(t, all[0].ID, cc.LastDocumentID)
	assert.True(t, cc.DocumentInFocus)
}

func TestRun_MissingRequiredArgumentAsksForClarification(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	run := f.exec.NewRun(testUserID, false, noContext, classification(IntentCreateInvoice))

	steps := run.Execute(ctx, []Call{call("c1", ToolCreateInvoice, Args{"amount": 500.0})})
	require.Len(t, steps, 1)
	assert.Equal(t, StepNeedsClarification, steps[0].Status)
	assert.Equal(t, []string{"client_name"}, steps[0].Missing)
	assert.Contains(t, steps[0].Message, "client name")

	count, err := f.docs.CountByUser(ctx, model.KindInvoice, testUserID)
	require.NoError(t, err)
	assert.Zero(t, count)

	res := run.Finish(ctx)
	assert.False(t, res.Success)
}

func TestRun_FailedProducerSkipsDependentStepsOnly(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	run := f.exec.NewRun(testUserID, false, noContext, classification(IntentCreateInvoice, ModDesignChange))

	steps := run.Execute(ctx, []Call{
		call("c1", ToolCreateInvoice, Args{"amount": 500.0}),
		call("c2", ToolSetDocumentColor, Args{"color": "red"}),
		call("c3", ToolUpdateBusinessSettings, Args{"business_name": "Acme Studio"}),
	})
	require.Len(t, steps, 3)
	assert.Equal(t, StepNeedsClarification, steps[0].Status)
	assert.Equal(t, StepSkipped, steps[1].Status)
	assert.Equal(t, 1, steps[1].DependsOn)
	assert.Equal(t, StepSucceeded, steps[2].Status, steps[2].Message)

	settings, err := f.business.GetSettings(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Studio", settings.BusinessName)

	res := run.Finish(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Data["partial"])
	assert.Len(t, res.Steps, 3)
}

func TestRun_BusinessUpdateReRendersDocumentInFocus(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	doc := f.seedInvoice(t, "Acme", model.LineItem{Description: "Design", Quantity: 2, UnitPrice: 150})
	cc := model.ChatContext{LastDocumentType: model.KindInvoice, LastDocumentID: doc.ID, LastDocumentNumber: doc.Number, DocumentInFocus: true}

	cls := Classify("Change my business address to 1 Main St", cc)
	require.True(t, cls.Has(ModContextAwareUpdate))
	run := f.exec.NewRun(testUserID, false, cc, cls)

	steps := run.Execute(ctx, []Call{call("c1", ToolUpdateBusinessSettings, Args{"address": "1 Main St"})})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)

	res := run.Finish(ctx)
	assert.True(t, res.Success)
	view := documentView(t, res)
	assert.Equal(t, doc.Number, view.Number)
	assert.Equal(t, "1 Main St", view.BusinessAddress)
	assert.Equal(t, 300.0, view.Total)
	assert.Contains(t, res.Message, "Here's the updated invoice "+doc.Number)

	next := run.Context()
	assert.Equal(t, doc.ID, next.LastDocumentID)
	assert.True(t, next.DocumentInFocus)
}

func TestRun_QuantityChangeOnEstimateFromPreviousTurn(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()

	first := f.exec.NewRun(testUserID, false, noContext, Classify("Make me an estimate for Steve for a new book, $50", noContext))
	steps := first.Execute(ctx, []Call{call("c1", ToolCreateEstimate, Args{
		"client_name": "Steve",
		"line_items":  []interface{}{map[string]interface{}{"description": "new book", "unit_price": 50.0}},
	})})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)
	first.Finish(ctx)
	cc := first.Context()
	assert.Equal(t, "EST-0001", cc.LastDocumentNumber)

	cls := Classify("Can you make these 10 new books actually?", cc)
	require.Equal(t, IntentManageEstimate, cls.Primary())
	second := f.exec.NewRun(testUserID, false, cc, cls)
	steps = second.Execute(ctx, []Call{call("c1", ToolUpdateEstimateLineItem, Args{"description": "new books", "quantity": 10.0})})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)

	res := second.Finish(ctx)
	view := documentView(t, res)
	assert.Equal(t, "EST-0001", view.Number)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 10.0, view.Items[0].Quantity)
	assert.Equal(t, 500.0, view.Total)

	count, err := f.docs.CountByUser(ctx, model.KindEstimate, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRun_FreeLimitReturnsPaywall(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	for _, name := range []string{"A", "B", "C"} {
		f.seedInvoice(t, name, model.LineItem{Description: "x", Quantity: 1, UnitPrice: 10})
	}

	run := f.exec.NewRun(testUserID, false, noContext, classification(IntentCreateInvoice))
	steps := run.Execute(ctx, []Call{call("c1", ToolCreateInvoice, Args{"client_name": "John", "amount": 500.0})})
	require.Len(t, steps, 1)
	assert.Equal(t, StepLimitReached, steps[0].Status)

	res := run.Finish(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, false, res.Data["canCreate"])
	assert.Equal(t, true, res.Data["paywall"])
	usage, ok := res.Data["usage"].(model.UsageStats)
	require.True(t, ok)
	assert.Equal(t, int64(3), usage.TotalItemsCreated)

	count, err := f.docs.CountByUser(ctx, model.KindInvoice, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	t.Run("subscribers are not limited", func(t *testing.T) {
		run := f.exec.NewRun(testUserID, true, noContext, classification(IntentCreateInvoice))
		steps := run.Execute(ctx, []Call{call("c1", ToolCreateInvoice, Args{"client_name": "John", "amount": 500.0})})
		assert.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)
		assert.Equal(t, "INV-0004", steps[0].Data.(*DocumentView).Number)
	})
}

func TestRun_LogoRequiresUpload(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	doc := f.seedInvoice(t, "Acme", model.LineItem{Description: "x", Quantity: 1, UnitPrice: 10})
	cc := model.ChatContext{LastDocumentType: model.KindInvoice, LastDocumentID: doc.ID, LastDocumentNumber: doc.Number, DocumentInFocus: true}
	cls := Classify("Add my logo", cc)

	run := f.exec.NewRun(testUserID, false, cc, cls)
	steps := run.Execute(ctx, []Call{call("c1", ToolAddLogo, nil)})
	assert.Equal(t, StepNeedsClarification, steps[0].Status)
	assert.Equal(t, []string{"logo"}, steps[0].Missing)

	require.NoError(t, f.business.SaveSettings(ctx, &model.BusinessSettings{UserID: testUserID, Currency: "USD", LogoObject: "logos/1/logo.png"}))
	run = f.exec.NewRun(testUserID, false, cc, cls)
	steps = run.Execute(ctx, []Call{call("c1", ToolAddLogo, nil)})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)
	view := steps[0].Data.(*DocumentView)
	assert.Equal(t, "https://files.example.com/logos/1/logo.png", view.LogoURL)
}

func TestRun_PaymentMethodShownOnDocument(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	doc := f.seedInvoice(t, "Acme", model.LineItem{Description: "x", Quantity: 1, UnitPrice: 10})
	cc := model.ChatContext{LastDocumentType: model.KindInvoice, LastDocumentID: doc.ID, LastDocumentNumber: doc.Number, DocumentInFocus: true}
	run := f.exec.NewRun(testUserID, false, cc, Classify("Set up PayPal for this invoice", cc))

	steps := run.Execute(ctx, []Call{
		call("c1", ToolSetupPaymentMethod, Args{"method": "Stripe"}),
		call("c2", ToolSetupPaymentMethod, Args{"method": "PayPal", "details": "pay@acme.test", "apply_to_document": true}),
	})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)
	require.Equal(t, StepSucceeded, steps[1].Status, steps[1].Message)

	view := documentView(t, run.Finish(ctx))
	assert.Equal(t, []string{model.PaymentPayPal}, view.PaymentMethods)

	options, err := f.business.ListPaymentOptions(ctx, testUserID)
	require.NoError(t, err)
	assert.Len(t, options, 2)
}

func TestRun_ExplicitNumberTargetsThatDocument(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	f.seedInvoice(t, "A", model.LineItem{Description: "x", Quantity: 1, UnitPrice: 10})
	second := f.seedInvoice(t, "B", model.LineItem{Description: "y", Quantity: 1, UnitPrice: 20})

	cls := Classify("mark invoice #2 as paid", noContext)
	run := f.exec.NewRun(testUserID, false, noContext, cls)
	steps := run.Execute(ctx, []Call{call("c1", ToolMarkInvoicePaid, Args{"document_number": "#2"})})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)

	got, err := f.docs.FindByID(ctx, model.KindInvoice, testUserID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, got.Status)

	t.Run("unknown number fails", func(t *testing.T) {
		run := f.exec.NewRun(testUserID, false, noContext, cls)
		steps := run.Execute(ctx, []Call{call("c1", ToolMarkInvoicePaid, Args{"document_number": "INV-0099"})})
		assert.Equal(t, StepFailed, steps[0].Status)
	})
}

func TestRun_OutstandingSummary(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	f.seedInvoice(t, "Acme", model.LineItem{Description: "x", Quantity: 1, UnitPrice: 100})
	f.seedInvoice(t, "Acme", model.LineItem{Description: "y", Quantity: 1, UnitPrice: 50})
	paid := f.seedInvoice(t, "Globex", model.LineItem{Description: "z", Quantity: 1, UnitPrice: 70})
	paid.Status = model.StatusPaid
	require.NoError(t, f.docs.Update(ctx, paid))

	run := f.exec.NewRun(testUserID, true, noContext, Classify("Who owes me money?", noContext))
	steps := run.Execute(ctx, []Call{call("c1", ToolOutstandingSummary, nil)})
	require.Equal(t, StepSucceeded, steps[0].Status, steps[0].Message)
	assert.Contains(t, steps[0].Message, "Acme owes 150.00")
	assert.NotContains(t, steps[0].Message, "Globex")

	res := run.Finish(ctx)
	_, hasDoc := res.Data["document"]
	assert.False(t, hasDoc)
	assert.False(t, run.Context().DocumentInFocus)
}

// failingCreateDocs 模拟数据库写入失败，其余操作走内存仓库。
type failingCreateDocs struct {
	repository.DocumentRepository
}

func (failingCreateDocs) Create(ctx context.Context, doc *model.Document) error {
	return errors.New("insert invoices: connection refused")
}

func TestRun_DataLayerFailureIsPartialSuccess(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	docs := failingCreateDocs{DocumentRepository: f.docs}
	search := repository.NewClientSearcher(nil, "clients", f.clients)
	exec := NewExecutor(docs, f.clients, search, f.business, countingUsage{docs: docs}, fakeLogos{})
	run := exec.NewRun(testUserID, false, noContext, classification(IntentCreateInvoice, ModDesignChange))

	steps := run.Execute(ctx, []Call{
		call("c1", ToolCreateInvoice, Args{"client_name": "Mike", "amount": 800.0}),
		call("c2", ToolSetDocumentColor, Args{"color": "purple"}),
		call("c3", ToolUpdateBusinessSettings, Args{"business_name": "Acme Studio"}),
	})
	require.Len(t, steps, 3)
	assert.Equal(t, StepFailed, steps[0].Status)
	assert.Contains(t, steps[0].Message, "connection refused")
	assert.Equal(t, StepSkipped, steps[1].Status)
	assert.Equal(t, 1, steps[1].DependsOn)
	assert.Equal(t, StepSucceeded, steps[2].Status, steps[2].Message)

	settings, err := f.business.GetSettings(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Studio", settings.BusinessName)

	res := run.Finish(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, true, res.Data["partial"])
	assert.Len(t, res.Steps, 3)
}
