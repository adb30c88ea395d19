package assistant

import (
	"context"
	"errors"
	"fmt"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/log"
	"sort"
	"strings"

	"gorm.io/gorm"
)

const defaultCurrency = "USD"

func (r *Run) createDocument(ctx context.Context, kind model.DocumentKind, a Args) (string, interface{}, error) {
	// 1. 用量闸门，每次都基于实时计数
	if !r.e.usage.CanUserCreateItem(ctx, r.userID, r.subscribed) {
		return "", nil, &limitReached{kind: kind, stats: r.e.usage.GetUserUsageStats(ctx, r.userID)}
	}

	// 2. 明细：line_items 优先，否则用 amount 生成单行
	items, err := a.LineItems("line_items")
	if err != nil {
		return "", nil, &clarification{missing: []string{"line_items"}, question: fmt.Sprintf("I couldn't read the line items (%v). What should the %s include?", err, kind)}
	}
	if len(items) == 0 {
		amount, ok := a.Float("amount")
		if !ok {
			return "", nil, &clarification{missing: []string{"amount"}, question: fmt.Sprintf("What amount should the %s be for?", kind)}
		}
		desc := a.String("description")
		if desc == "" {
			desc = "Services"
		}
		items = []model.LineItem{{Description: desc, Quantity: 1, UnitPrice: amount}}
	}

	// 3. 商户默认值
	settings, err := r.e.business.GetSettings(ctx, r.userID)
	if err != nil {
		log.Warnw("load business settings failed, using defaults", "userId", r.userID, "error", err)
		settings = &model.BusinessSettings{UserID: r.userID, Currency: defaultCurrency}
	}

	// 4. 客户：按名称精确匹配，不存在则创建
	client, err := r.resolveClient(ctx, a.String("client_name"), a.String("client_email"))
	if err != nil {
		return "", nil, err
	}

	doc := &model.Document{
		UserID:     r.userID,
		Kind:       kind,
		ClientID:   &client.ID,
		ClientName: client.Name,
		Items:      items,
		TaxRate:    settings.DefaultTaxRate,
		Currency:   settings.Currency,
		Status:     model.StatusDraft,
	}
	if doc.Currency == "" {
		doc.Currency = defaultCurrency
	}
	if _, err := applyDocumentFields(doc, a); err != nil {
		return "", nil, err
	}

	// 5. 写入并重新读取
	if err := r.e.docs.Create(ctx, doc); err != nil {
		return "", nil, fmt.Errorf("create %s: %w", kind, err)
	}
	fresh, err := r.e.docs.FindByID(ctx, kind, r.userID, doc.ID)
	if err != nil {
		fresh = doc
	}
	r.touch(fresh, "create")
	view := r.e.render(ctx, fresh)
	return fmt.Sprintf("Created %s.", view.Summary()), view, nil
}

// applyDocumentFields 写入可选字段，返回是否有字段被修改。
func applyDocumentFields(doc *model.Document, a Args) (bool, error) {
	changed := false
	if v, ok := a.Float("tax_rate"); ok {
		doc.TaxRate = v
		changed = true
	}
	if v, ok := a.Float("discount"); ok {
		doc.Discount = v
		changed = true
	}
	if v := a.String("currency"); v != "" {
		doc.Currency = strings.ToUpper(v)
		changed = true
	}
	if a.Has("notes") {
		doc.Notes = a.String("notes")
		changed = true
	}
	if v := a.String("due_date"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return false, &clarification{missing: []string{"due_date"}, question: fmt.Sprintf("I couldn't read the date %q. Which date do you mean (YYYY-MM-DD)?", v)}
		}
		doc.DueDate = &d
		changed = true
	}
	return changed, nil
}

func (r *Run) resolveClient(ctx context.Context, name, email string) (*model.Client, error) {
	client, err := r.e.clients.FindByName(ctx, r.userID, name)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("look up client %q: %w", name, err)
	}
	client = &model.Client{UserID: r.userID, Name: strings.TrimSpace(name), Email: email}
	if err := r.e.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("create client %q: %w", name, err)
	}
	r.indexClient(ctx, client)
	return client, nil
}

func (r *Run) indexClient(ctx context.Context, client *model.Client) {
	if r.e.search == nil {
		return
	}
	if err := r.e.search.Index(ctx, client); err != nil {
		log.Warnw("index client failed", "clientId", client.ID, "error", err)
	}
}

func (r *Run) getDocument(ctx context.Context, kind model.DocumentKind, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, kind, a)
	if err != nil {
		return "", nil, err
	}
	r.touch(doc, "view")
	view := r.e.render(ctx, doc)
	return fmt.Sprintf("Here's %s.", view.Summary()), view, nil
}

func (r *Run) updateDocument(ctx context.Context, kind model.DocumentKind, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, kind, a)
	if err != nil {
		return "", nil, err
	}
	changed, err := applyDocumentFields(doc, a)
	if err != nil {
		return "", nil, err
	}
	if name := a.String("client_name"); name != "" {
		client, err := r.resolveClient(ctx, name, "")
		if err != nil {
			return "", nil, err
		}
		doc.ClientID, doc.ClientName = &client.ID, client.Name
		changed = true
	}
	if status := a.String("status"); status != "" {
		if !validStatus(kind, status) {
			return "", nil, &clarification{missing: []string{"status"}, question: fmt.Sprintf("%q isn't a valid %s status.", status, kind)}
		}
		doc.Status = status
		changed = true
	}
	if !changed {
		return "", nil, &clarification{missing: []string{"changes"}, question: fmt.Sprintf("What should I change on %s %s?", kind, doc.Number)}
	}
	view, err := r.save(ctx, doc, "update")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Updated %s.", view.Summary()), view, nil
}

func validStatus(kind model.DocumentKind, status string) bool {
	switch status {
	case model.StatusDraft, model.StatusSent:
		return true
	case model.StatusPaid, model.StatusOverdue:
		return kind == model.KindInvoice
	case model.StatusAccepted, model.StatusDeclined:
		return kind == model.KindEstimate
	}
	return false
}

func (r *Run) addLineItem(ctx context.Context, kind model.DocumentKind, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, kind, a)
	if err != nil {
		return "", nil, err
	}
	price, ok := a.Float("unit_price")
	if !ok {
		return "", nil, &clarification{missing: []string{"unit_price"}, question: "What's the price for that item?"}
	}
	qty, ok := a.Float("quantity")
	if !ok || qty <= 0 {
		qty = 1
	}
	doc.Items = append(doc.Items, model.LineItem{Description: a.String("description"), Quantity: qty, UnitPrice: price})
	view, err := r.save(ctx, doc, "add_line_item")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Added %q to %s.", a.String("description"), view.Summary()), view, nil
}

func (r *Run) updateLineItem(ctx context.Context, kind model.DocumentKind, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, kind, a)
	if err != nil {
		return "", nil, err
	}
	i, err := pickItem(doc, a)
	if err != nil {
		return "", nil, err
	}
	item := &doc.Items[i]
	changed := false
	if v, ok := a.Float("quantity"); ok && v > 0 {
		item.Quantity = v
		changed = true
	}
	if v, ok := a.Float("unit_price"); ok {
		item.UnitPrice = v
		changed = true
	}
	if v := a.String("new_description"); v != "" {
		item.Description = v
		changed = true
	}
	if !changed {
		return "", nil, &clarification{missing: []string{"quantity", "unit_price"}, question: fmt.Sprintf("What should change on %q?", item.Description)}
	}
	view, err := r.save(ctx, doc, "update_line_item")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Updated line %d of %s.", i+1, view.Summary()), view, nil
}

func (r *Run) removeLineItem(ctx context.Context, kind model.DocumentKind, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, kind, a)
	if err != nil {
		return "", nil, err
	}
	i, err := pickItem(doc, a)
	if err != nil {
		return "", nil, err
	}
	removed := doc.Items[i].Description
	doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
	view, err := r.save(ctx, doc, "remove_line_item")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Removed %q from %s.", removed, view.Summary()), view, nil
}

// pickItem 按序号、描述或唯一一行定位明细。
func pickItem(doc *model.Document, a Args) (int, error) {
	if len(doc.Items) == 0 {
		return 0, fmt.Errorf("%s %s has no line items", doc.Kind, doc.Number)
	}
	if n, ok := a.Int("item_index"); ok {
		if n < 1 || n > len(doc.Items) {
			return 0, &clarification{missing: []string{"item_index"}, question: fmt.Sprintf("%s %s has %d line items. Which one do you mean?", doc.Kind, doc.Number, len(doc.Items))}
		}
		return n - 1, nil
	}
	if q := strings.ToLower(a.String("description")); q != "" {
		q = strings.TrimSuffix(q, "s")
		for i, it := range doc.Items {
			d := strings.ToLower(it.Description)
			if strings.Contains(d, q) || strings.Contains(q, strings.TrimSuffix(d, "s")) {
				return i, nil
			}
		}
	}
	if len(doc.Items) == 1 {
		return 0, nil
	}
	return 0, &clarification{missing: []string{"item_index"}, question: fmt.Sprintf("Which line on %s %s do you mean?", doc.Kind, doc.Number)}
}

func (r *Run) markPaid(ctx context.Context, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, model.KindInvoice, a)
	if err != nil {
		return "", nil, err
	}
	doc.Status = model.StatusPaid
	view, err := r.save(ctx, doc, "mark_paid")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Marked %s %s as paid.", view.Kind, view.Number), view, nil
}

func (r *Run) convertEstimate(ctx context.Context, a Args) (string, interface{}, error) {
	est, err := r.target(ctx, model.KindEstimate, a)
	if err != nil {
		return "", nil, err
	}
	if est.Status == model.StatusConverted {
		return "", nil, fmt.Errorf("estimate %s was already converted", est.Number)
	}
	if !r.e.usage.CanUserCreateItem(ctx, r.userID, r.subscribed) {
		return "", nil, &limitReached{kind: model.KindInvoice, stats: r.e.usage.GetUserUsageStats(ctx, r.userID)}
	}

	inv := &model.Document{
		UserID:         r.userID,
		Kind:           model.KindInvoice,
		ClientID:       est.ClientID,
		ClientName:     est.ClientName,
		Items:          append(est.Items[:0:0], est.Items...),
		TaxRate:        est.TaxRate,
		Discount:       est.Discount,
		Currency:       est.Currency,
		Status:         model.StatusDraft,
		Notes:          est.Notes,
		Color:          est.Color,
		Template:       est.Template,
		ShowLogo:       est.ShowLogo,
		PaymentMethods: est.PaymentMethods,
	}
	if err := r.e.docs.Create(ctx, inv); err != nil {
		return "", nil, fmt.Errorf("create invoice from %s: %w", est.Number, err)
	}
	est.Status = model.StatusConverted
	if _, err := r.save(ctx, est, "convert"); err != nil {
		log.Warnw("mark estimate converted failed", "userId", r.userID, "estimate", est.Number, "error", err)
	}
	fresh, err := r.e.docs.FindByID(ctx, model.KindInvoice, r.userID, inv.ID)
	if err != nil {
		fresh = inv
	}
	r.touch(fresh, "convert")
	view := r.e.render(ctx, fresh)
	return fmt.Sprintf("Converted estimate %s into %s.", est.Number, view.Summary()), view, nil
}

func (r *Run) searchClients(ctx context.Context, a Args) (string, interface{}, error) {
	if r.e.search == nil {
		return "", nil, errors.New("client search is unavailable")
	}
	clients, err := r.e.search.Search(ctx, r.userID, a.String("query"), 10)
	if err != nil {
		return "", nil, err
	}
	if len(clients) == 0 {
		return fmt.Sprintf("No clients match %q.", a.String("query")), clients, nil
	}
	names := make([]string, len(clients))
	for i, c := range clients {
		names[i] = c.Name
	}
	return fmt.Sprintf("Found %d client(s): %s.", len(clients), strings.Join(names, ", ")), clients, nil
}

func (r *Run) createClient(ctx context.Context, a Args) (string, interface{}, error) {
	name := a.String("name")
	if existing, err := r.e.clients.FindByName(ctx, r.userID, name); err == nil {
		return fmt.Sprintf("%s is already a client.", existing.Name), existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, err
	}
	client := &model.Client{
		UserID:  r.userID,
		Name:    name,
		Email:   a.String("email"),
		Phone:   a.String("phone"),
		Address: a.String("address"),
	}
	if err := r.e.clients.Create(ctx, client); err != nil {
		return "", nil, err
	}
	r.indexClient(ctx, client)
	return fmt.Sprintf("Added client %s.", client.Name), client, nil
}

func (r *Run) updateClient(ctx context.Context, a Args) (string, interface{}, error) {
	name := a.String("client_name")
	client, err := r.e.clients.FindByName(ctx, r.userID, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, fmt.Errorf("client %q not found", name)
	}
	if err != nil {
		return "", nil, err
	}
	changed := false
	for key, field := range map[string]*string{"new_name": &client.Name, "email": &client.Email, "phone": &client.Phone, "address": &client.Address} {
		if v := a.String(key); v != "" {
			*field = v
			changed = true
		}
	}
	if !changed {
		return "", nil, &clarification{missing: []string{"changes"}, question: fmt.Sprintf("What should I update for %s?", client.Name)}
	}
	if err := r.e.clients.Update(ctx, client); err != nil {
		return "", nil, err
	}
	r.indexClient(ctx, client)
	return fmt.Sprintf("Updated client %s.", client.Name), client, nil
}

func (r *Run) getBusinessSettings(ctx context.Context) (string, interface{}, error) {
	settings, err := r.e.business.GetSettings(ctx, r.userID)
	if err != nil {
		return "", nil, err
	}
	name := settings.BusinessName
	if name == "" {
		name = "not set"
	}
	return fmt.Sprintf("Business name: %s.", name), settings, nil
}

func (r *Run) updateBusinessSettings(ctx context.Context, a Args) (string, interface{}, error) {
	settings, err := r.e.business.GetSettings(ctx, r.userID)
	if err != nil {
		return "", nil, err
	}
	var changed []string
	for key, field := range map[string]*string{"business_name": &settings.BusinessName, "address": &settings.Address, "email": &settings.Email, "phone": &settings.Phone} {
		if v := a.String(key); v != "" {
			*field = v
			changed = append(changed, humanize([]string{key})[0])
		}
	}
	if v := a.String("currency"); v != "" {
		settings.Currency = strings.ToUpper(v)
		changed = append(changed, "currency")
	}
	if v, ok := a.Float("default_tax_rate"); ok {
		settings.DefaultTaxRate = v
		changed = append(changed, "default tax rate")
	}
	if len(changed) == 0 {
		return "", nil, &clarification{missing: []string{"changes"}, question: "Which business detail should I change?"}
	}
	if err := r.e.business.SaveSettings(ctx, settings); err != nil {
		return "", nil, err
	}
	r.businessChanged = true
	sort.Strings(changed)
	return fmt.Sprintf("Updated your business %s.", strings.Join(changed, ", ")), settings, nil
}

func (r *Run) setColor(ctx context.Context, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, r.designKind(a), a)
	if err != nil {
		return "", nil, err
	}
	doc.Color = strings.ToLower(a.String("color"))
	view, err := r.save(ctx, doc, "set_color")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Set %s %s to %s.", view.Kind, view.Number, view.Color), view, nil
}

func (r *Run) setTemplate(ctx context.Context, a Args) (string, interface{}, error) {
	doc, err := r.target(ctx, r.designKind(a), a)
	if err != nil {
		return "", nil, err
	}
	doc.Template = strings.ToLower(a.String("template"))
	view, err := r.save(ctx, doc, "set_template")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Switched %s %s to the %s template.", view.Kind, view.Number, view.Template), view, nil
}

func (r *Run) addLogo(ctx context.Context, a Args) (string, interface{}, error) {
	settings, err := r.e.business.GetSettings(ctx, r.userID)
	if err != nil {
		return "", nil, err
	}
	if settings.LogoObject == "" {
		return "", nil, &clarification{missing: []string{"logo"}, question: "You haven't uploaded a logo yet. Upload one in settings and I'll add it."}
	}
	doc, err := r.target(ctx, r.designKind(a), a)
	if err != nil {
		return "", nil, err
	}
	doc.ShowLogo = true
	view, err := r.save(ctx, doc, "add_logo")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Added your logo to %s %s.", view.Kind, view.Number), view, nil
}

func (r *Run) getPaymentOptions(ctx context.Context) (string, interface{}, error) {
	options, err := r.e.business.ListPaymentOptions(ctx, r.userID)
	if err != nil {
		return "", nil, err
	}
	var enabled []string
	for _, o := range options {
		if o.Enabled {
			enabled = append(enabled, o.Method)
		}
	}
	if len(enabled) == 0 {
		return "No payment methods are set up yet.", options, nil
	}
	return fmt.Sprintf("Enabled payment methods: %s.", strings.Join(enabled, ", ")), options, nil
}

func normalizeMethod(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "paypal"):
		return model.PaymentPayPal
	case strings.Contains(s, "stripe"), strings.Contains(s, "card"):
		return model.PaymentStripe
	case strings.Contains(s, "bank"):
		return model.PaymentBankTransfer
	}
	return ""
}

func (r *Run) setupPaymentMethod(ctx context.Context, a Args) (string, interface{}, error) {
	method := normalizeMethod(a.String("method"))
	if method == "" {
		return "", nil, &clarification{missing: []string{"method"}, question: "Which payment method: PayPal, Stripe or bank transfer?"}
	}
	enabled, ok := a.Bool("enabled")
	if !ok {
		enabled = true
	}
	option := &model.PaymentOption{UserID: r.userID, Method: method, Details: a.String("details"), Enabled: enabled}
	if err := r.e.business.UpsertPaymentOption(ctx, option); err != nil {
		return "", nil, err
	}
	r.businessChanged = true
	msg := fmt.Sprintf("Enabled %s.", method)
	if !enabled {
		msg = fmt.Sprintf("Disabled %s.", method)
	}

	apply, _ := a.Bool("apply_to_document")
	if !apply && !a.Has("document_number") {
		return msg, option, nil
	}
	doc, err := r.target(ctx, r.designKind(a), a)
	if err != nil {
		return "", nil, err
	}
	doc.PaymentMethods = joinMethods(splitMethods(doc.PaymentMethods), method)
	view, err := r.save(ctx, doc, "payment_method")
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s It now shows on %s %s.", msg, view.Kind, view.Number), view, nil
}

// DocumentSummary 是列表中的一行。
type DocumentSummary struct {
	Number     string           `json:"number"`
	ClientName string           `json:"clientName"`
	Total      float64          `json:"total"`
	Currency   string           `json:"currency"`
	Status     string           `json:"status"`
	DueDate    *model.LocalDate `json:"dueDate,omitempty"`
}

var unpaidStatuses = []string{model.StatusDraft, model.StatusSent, model.StatusOverdue}

func (r *Run) listDocuments(ctx context.Context, a Args) (string, interface{}, error) {
	kind := model.KindInvoice
	if model.DocumentKind(a.String("document_type")) == model.KindEstimate {
		kind = model.KindEstimate
	}
	var statuses []string
	switch s := a.String("status"); s {
	case "":
	case "unpaid", "outstanding":
		statuses = unpaidStatuses
	default:
		statuses = []string{s}
	}
	limit, ok := a.Int("limit")
	if !ok || limit <= 0 {
		limit = 20
	}
	docs, err := r.e.docs.ListByUser(ctx, kind, r.userID, statuses, limit)
	if err != nil {
		return "", nil, err
	}
	rows := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		row := DocumentSummary{Number: d.Number, ClientName: d.ClientName, Total: d.Total, Currency: d.Currency, Status: d.Status}
		if d.DueDate != nil {
			ld := model.LocalDate(*d.DueDate)
			row.DueDate = &ld
		}
		rows = append(rows, row)
	}
	return fmt.Sprintf("Found %d %s(s).", len(rows), kind), rows, nil
}

// ClientBalance 是某个客户的未收款汇总。
type ClientBalance struct {
	ClientName string   `json:"clientName"`
	Invoices   []string `json:"invoices"`
	Owed       float64  `json:"owed"`
}

func (r *Run) outstandingSummary(ctx context.Context) (string, interface{}, error) {
	docs, err := r.e.docs.ListByUser(ctx, model.KindInvoice, r.userID, unpaidStatuses, 0)
	if err != nil {
		return "", nil, err
	}
	byClient := map[string]*ClientBalance{}
	var total float64
	for _, d := range docs {
		b, ok := byClient[d.ClientName]
		if !ok {
			b = &ClientBalance{ClientName: d.ClientName}
			byClient[d.ClientName] = b
		}
		b.Invoices = append(b.Invoices, d.Number)
		b.Owed += d.Total
		total += d.Total
	}
	balances := make([]ClientBalance, 0, len(byClient))
	for _, b := range byClient {
		balances = append(balances, *b)
	}
	sort.Slice(balances, func(i, j int) bool {
		if balances[i].Owed != balances[j].Owed {
			return balances[i].Owed > balances[j].Owed
		}
		return balances[i].ClientName < balances[j].ClientName
	})
	if len(balances) == 0 {
		return "Nobody owes you anything right now.", balances, nil
	}
	parts := make([]string, len(balances))
	for i, b := range balances {
		parts[i] = fmt.Sprintf("%s owes %.2f", b.ClientName, b.Owed)
	}
	return fmt.Sprintf("%s. Total outstanding: %.2f.", strings.Join(parts, "; "), total), map[string]interface{}{
		"clients": balances,
		"total":   total,
	}, nil
}
