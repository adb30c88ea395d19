package assistant

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/internal/repository"
	"invoice-assistant-go/pkg/log"
	"strings"
	"time"

	"gorm.io/gorm"
)

// UsageGate 是执行器需要的用量判断能力，由 UsageService 实现。
type UsageGate interface {
	GetUserUsageStats(ctx context.Context, userID uint) model.UsageStats
	CanUserCreateItem(ctx context.Context, userID uint, isSubscribed bool) bool
}

// StepStatus 是单个工具调用的执行结果。
type StepStatus string

const (
	StepSucceeded          StepStatus = "succeeded"
	StepFailed             StepStatus = "failed"
	StepSkipped            StepStatus = "skipped"
	StepNeedsClarification StepStatus = "needs_clarification"
	StepLimitReached       StepStatus = "limit_reached"
)

// Step 记录链中一步的结果。Index 从 1 开始；DependsOn 指向导致本步被跳过的步骤。
type Step struct {
	Index     int         `json:"index"`
	Tool      string      `json:"tool"`
	Status    StepStatus  `json:"status"`
	Message   string      `json:"message"`
	Missing   []string    `json:"missing,omitempty"`
	DependsOn int         `json:"dependsOn,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// TurnResult 是一轮执行的结构化结果，与自然语言回复分开返回。
type TurnResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Message string                 `json:"message"`
	Steps   []Step                 `json:"steps"`
}

// 以下错误类型由工具处理函数返回，用于区分步骤状态。
type clarification struct {
	missing  []string
	question string
}

func (c *clarification) Error() string { return c.question }

type limitReached struct {
	kind  model.DocumentKind
	stats model.UsageStats
}

func (l *limitReached) Error() string {
	return fmt.Sprintf("free plan limit of %d documents reached", l.stats.Limit)
}

type dependency struct {
	step int
}

func (d *dependency) Error() string {
	return fmt.Sprintf("depends on step %d, which did not complete", d.step)
}

// Executor 对数据层执行工具调用。它本身无状态，每轮通过 NewRun 创建执行上下文。
type Executor struct {
	docs     repository.DocumentRepository
	clients  repository.ClientRepository
	search   repository.ClientSearcher
	business repository.BusinessRepository
	usage    UsageGate
	logos    LogoURLer
}

// NewExecutor 创建执行器。logos 可为 nil，此时渲染结果不带 Logo 链接。
func NewExecutor(
	docs repository.DocumentRepository,
	clients repository.ClientRepository,
	search repository.ClientSearcher,
	business repository.BusinessRepository,
	usage UsageGate,
	logos LogoURLer,
) *Executor {
	return &Executor{docs: docs, clients: clients, search: search, business: business, usage: usage, logos: logos}
}

type docKey struct {
	kind   model.DocumentKind
	id     uint
	number string
}

// Run 是一轮对话内的执行状态：链中的焦点单据、失败步骤与待刷新的单据。
type Run struct {
	e          *Executor
	userID     uint
	subscribed bool
	cc         model.ChatContext
	cls        Classification

	steps           []Step
	focus           map[model.DocumentKind]uint
	failedBy        map[model.DocumentKind]int
	lastKind        model.DocumentKind
	lastDoc         *docKey
	lastOp          string
	businessChanged bool
	paywall         *model.UsageStats
}

// NewRun 为一轮对话创建执行状态。
func (e *Executor) NewRun(userID uint, isSubscribed bool, cc model.ChatContext, cls Classification) *Run {
	return &Run{
		e:          e,
		userID:     userID,
		subscribed: isSubscribed,
		cc:         cc,
		cls:        cls,
		focus:      make(map[model.DocumentKind]uint),
		failedBy:   make(map[model.DocumentKind]int),
	}
}

// Steps 返回目前为止执行过的步骤。
func (r *Run) Steps() []Step {
	return r.steps
}

// Execute 按模型给出的顺序执行一批调用，返回与 calls 一一对应的步骤。
// 某步失败只影响依赖它产出的后续步骤，独立步骤照常执行。
func (r *Run) Execute(ctx context.Context, calls []Call) []Step {
	start := len(r.steps)
	for _, c := range calls {
		r.steps = append(r.steps, r.execute(ctx, c))
	}
	return r.steps[start:]
}

func (r *Run) execute(ctx context.Context, c Call) Step {
	step := Step{Index: len(r.steps) + 1, Tool: c.Name}
	spec, ok := lookupTool(c.Name)
	if !ok {
		step.Status = StepFailed
		step.Message = fmt.Sprintf("%s is not a known operation", c.Name)
		return step
	}

	var err error
	if missing := c.Args.Missing(spec.Required); len(missing) > 0 {
		err = &clarification{missing: missing, question: fmt.Sprintf("I need the %s to %s.", strings.Join(humanize(missing), " and "), humanizeTool(c.Name))}
	} else {
		step.Message, step.Data, err = r.dispatch(ctx, c)
	}

	var (
		clar *clarification
		lim  *limitReached
		dep  *dependency
	)
	switch {
	case err == nil:
		step.Status = StepSucceeded
		return step
	case errors.As(err, &clar):
		step.Status = StepNeedsClarification
		step.Missing = clar.missing
		step.Message = clar.question
	case errors.As(err, &lim):
		step.Status = StepLimitReached
		step.Message = fmt.Sprintf("You've used all %d free invoices and estimates. Upgrade to create more.", lim.stats.Limit)
		stats := lim.stats
		r.paywall = &stats
	case errors.As(err, &dep):
		step.Status = StepSkipped
		step.DependsOn = dep.step
		step.Message = fmt.Sprintf("Skipped %s because step %d did not complete.", humanizeTool(c.Name), dep.step)
	default:
		step.Status = StepFailed
		step.Message = fmt.Sprintf("Couldn't %s: %v", humanizeTool(c.Name), err)
		log.Warnw("tool call failed", "userId", r.userID, "tool", c.Name, "step", step.Index, "error", err)
	}
	step.Data = nil

	// 产出焦点单据的步骤未完成时，后续隐式指向该类单据的步骤都依赖它
	if kind := focusProducer(c.Name); kind != "" {
		r.failedBy[kind] = step.Index
		delete(r.focus, kind)
		r.lastKind = kind
	}
	return step
}

func (r *Run) dispatch(ctx context.Context, c Call) (string, interface{}, error) {
	a := c.Args
	switch c.Name {
	case ToolCreateInvoice:
		return r.createDocument(ctx, model.KindInvoice, a)
	case ToolCreateEstimate:
		return r.createDocument(ctx, model.KindEstimate, a)
	case ToolGetInvoice:
		return r.getDocument(ctx, model.KindInvoice, a)
	case ToolGetEstimate:
		return r.getDocument(ctx, model.KindEstimate, a)
	case ToolUpdateInvoice:
		return r.updateDocument(ctx, model.KindInvoice, a)
	case ToolUpdateEstimate:
		return r.updateDocument(ctx, model.KindEstimate, a)
	case ToolAddInvoiceLineItem:
		return r.addLineItem(ctx, model.KindInvoice, a)
	case ToolAddEstimateLineItem:
		return r.addLineItem(ctx, model.KindEstimate, a)
	case ToolUpdateInvoiceLineItem:
		return r.updateLineItem(ctx, model.KindInvoice, a)
	case ToolUpdateEstimateLineItem:
		return r.updateLineItem(ctx, model.KindEstimate, a)
	case ToolRemoveInvoiceLineItem:
		return r.removeLineItem(ctx, model.KindInvoice, a)
	case ToolRemoveEstimateLineItem:
		return r.removeLineItem(ctx, model.KindEstimate, a)
	case ToolMarkInvoicePaid:
		return r.markPaid(ctx, a)
	case ToolConvertEstimate:
		return r.convertEstimate(ctx, a)
	case ToolSearchClients:
		return r.searchClients(ctx, a)
	case ToolCreateClient:
		return r.createClient(ctx, a)
	case ToolUpdateClient:
		return r.updateClient(ctx, a)
	case ToolGetBusinessSettings:
		return r.getBusinessSettings(ctx)
	case ToolUpdateBusinessSettings:
		return r.updateBusinessSettings(ctx, a)
	case ToolSetDocumentColor:
		return r.setColor(ctx, a)
	case ToolSetDocumentTemplate:
		return r.setTemplate(ctx, a)
	case ToolAddLogo:
		return r.addLogo(ctx, a)
	case ToolGetPaymentOptions:
		return r.getPaymentOptions(ctx)
	case ToolSetupPaymentMethod:
		return r.setupPaymentMethod(ctx, a)
	case ToolListInvoices:
		return r.listDocuments(ctx, a)
	case ToolOutstandingSummary:
		return r.outstandingSummary(ctx)
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnknownTool, c.Name)
}

// focusProducer 返回会把某类单据设为链焦点的工具对应的单据类型。
func focusProducer(tool string) model.DocumentKind {
	switch tool {
	case ToolCreateInvoice, ToolGetInvoice, ToolConvertEstimate:
		return model.KindInvoice
	case ToolCreateEstimate, ToolGetEstimate:
		return model.KindEstimate
	}
	return ""
}

// target 解析工具调用的目标单据：显式编号 > 本链焦点 > 本轮消息中的编号 > 滚动上下文。
func (r *Run) target(ctx context.Context, kind model.DocumentKind, a Args) (*model.Document, error) {
	if raw := a.String("document_number"); raw != "" {
		number := NormalizeNumber(kind, raw)
		return r.findByNumber(ctx, kind, number)
	}
	if id, ok := r.focus[kind]; ok {
		return r.e.docs.FindByID(ctx, kind, r.userID, id)
	}
	if idx, ok := r.failedBy[kind]; ok {
		return nil, &dependency{step: idx}
	}
	if ref := r.cls.Reference; ref != nil && ref.Kind == kind {
		return r.findByNumber(ctx, kind, ref.Number)
	}
	if r.cc.LastDocumentType == kind {
		if doc, err := r.contextDocument(ctx); doc != nil || err != nil {
			return doc, err
		}
	}
	return nil, &clarification{missing: []string{"document_number"}, question: fmt.Sprintf("Which %s do you mean? Please give me its number.", kind)}
}

// contextDocument 读取滚动上下文指向的单据；从历史推导的上下文可能只有类型，此时取最新一张。
func (r *Run) contextDocument(ctx context.Context) (*model.Document, error) {
	kind := r.cc.LastDocumentType
	switch {
	case kind == "":
		return nil, nil
	case r.cc.LastDocumentID != 0:
		return r.e.docs.FindByID(ctx, kind, r.userID, r.cc.LastDocumentID)
	case r.cc.LastDocumentNumber != "":
		return r.findByNumber(ctx, kind, r.cc.LastDocumentNumber)
	}
	docs, err := r.e.docs.ListByUser(ctx, kind, r.userID, nil, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

func (r *Run) findByNumber(ctx context.Context, kind model.DocumentKind, number string) (*model.Document, error) {
	doc, err := r.e.docs.FindByNumber(ctx, kind, r.userID, number)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %s not found", kind, number)
	}
	return doc, err
}

// designKind 决定与类型无关的工具（颜色、模板、Logo、收款方式）作用于哪类单据。
func (r *Run) designKind(a Args) model.DocumentKind {
	switch model.DocumentKind(a.String("document_type")) {
	case model.KindInvoice:
		return model.KindInvoice
	case model.KindEstimate:
		return model.KindEstimate
	}
	if raw := strings.ToUpper(a.String("document_number")); raw != "" {
		if strings.HasPrefix(raw, "EST") {
			return model.KindEstimate
		}
		if strings.HasPrefix(raw, "INV") {
			return model.KindInvoice
		}
	}
	for _, k := range []model.DocumentKind{r.lastKind, r.cls.Primary().DocumentKind(), r.cc.LastDocumentType} {
		if k != "" {
			return k
		}
	}
	return model.KindInvoice
}

// touch 将单据设为本链焦点。
func (r *Run) touch(doc *model.Document, op string) {
	r.focus[doc.Kind] = doc.ID
	delete(r.failedBy, doc.Kind)
	r.lastKind = doc.Kind
	r.lastDoc = &docKey{kind: doc.Kind, id: doc.ID, number: doc.Number}
	r.lastOp = op
}

// save 写回单据并重新读取，保证渲染结果来自数据层的最新状态。
func (r *Run) save(ctx context.Context, doc *model.Document, op string) (*DocumentView, error) {
	if err := r.e.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("save %s %s: %w", doc.Kind, doc.Number, err)
	}
	fresh, err := r.e.docs.FindByID(ctx, doc.Kind, r.userID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("reload %s %s: %w", doc.Kind, doc.Number, err)
	}
	r.touch(fresh, op)
	return r.e.render(ctx, fresh), nil
}

// Finish 结束本轮：重新读取并渲染最终焦点单据（包括上下文感知更新涉及的已有单据），并汇总步骤。
func (r *Run) Finish(ctx context.Context) TurnResult {
	res := TurnResult{Success: true, Steps: r.steps, Data: map[string]interface{}{}}
	if res.Steps == nil {
		res.Steps = []Step{}
	}

	var lines []string
	succeeded := 0
	for _, s := range r.steps {
		lines = append(lines, s.Message)
		if s.Status == StepSucceeded {
			succeeded++
		} else {
			res.Success = false
		}
	}
	if succeeded > 0 && succeeded < len(r.steps) {
		res.Data["partial"] = true
	}

	var doc *model.Document
	var err error
	switch {
	case r.lastDoc != nil:
		doc, err = r.e.docs.FindByID(ctx, r.lastDoc.kind, r.userID, r.lastDoc.id)
	case r.needsContextRefresh():
		doc, err = r.contextDocument(ctx)
		if doc != nil {
			r.touch(doc, "refresh")
		}
	}
	if err != nil {
		log.Warnw("re-render document failed", "userId", r.userID, "error", err)
	}
	if doc != nil {
		view := r.e.render(ctx, doc)
		res.Data["document"] = view
		if r.lastOp == "refresh" {
			lines = append(lines, "Here's the updated "+view.Summary()+".")
		}
	}

	if r.paywall != nil {
		res.Data["canCreate"] = false
		res.Data["paywall"] = true
		res.Data["usage"] = *r.paywall
	}
	if len(res.Data) == 0 {
		res.Data = nil
	}
	res.Message = strings.Join(lines, "\n")
	return res
}

// needsContextRefresh 本链未触及单据，但执行了上下文感知更新或修改了商户资料，而上一轮的单据仍在焦点。
func (r *Run) needsContextRefresh() bool {
	if !r.cc.HasDocument() {
		return false
	}
	if _, failed := r.failedBy[r.cc.LastDocumentType]; failed {
		return false
	}
	if r.cls.Has(ModContextAwareUpdate) {
		return true
	}
	return r.businessChanged && r.cc.DocumentInFocus
}

// Context 返回本轮结束后的滚动上下文。
func (r *Run) Context() model.ChatContext {
	cc := r.cc
	cc.UpdatedAt = time.Now()
	switch {
	case r.lastDoc != nil:
		cc.LastDocumentType = r.lastDoc.kind
		cc.LastDocumentID = r.lastDoc.id
		cc.LastDocumentNumber = r.lastDoc.number
		cc.LastOperation = r.lastOp
		cc.DocumentInFocus = true
	case r.cls.UsesPriorContext && r.cls.Primary().IsManage():
		cc.DocumentInFocus = cc.HasDocument()
	default:
		cc.DocumentInFocus = false
	}
	return cc
}

func humanize(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.ReplaceAll(k, "_", " ")
	}
	return out
}

func humanizeTool(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
