package assistant

import (
	"fmt"
	"invoice-assistant-go/internal/model"
	"regexp"
	"strconv"
	"strings"
)

// 词表均针对小写、空白已折叠的文本。
var (
	reCreateVerb   = regexp.MustCompile(`\b(?:create|make|generate|draft|prepare|start|new|write|build|need|issue|raise)\b(?:\s+\S+){0,3}?\s+(invoice|estimate|quote|quotation|bill)\b`)
	reCreateLead   = regexp.MustCompile(`^(?:(?:please|can you|could you|i want to|i'd like to|go ahead and)\s+)*(bill|invoice|quote|charge)\s+(?:[a-z0-9'&.$,-]+\s+){0,6}for\b`)
	reCreateLeadTo = regexp.MustCompile(`^(?:(?:please|can you|could you|i want to|i'd like to|go ahead and)\s+)*(bill|charge)\s+(?:[a-z0-9'&.$,-]+\s+){0,6}to\b`)
	reCreateNoun   = regexp.MustCompile(`\b(?:an?|new)\s+(invoice|estimate|quote|quotation|bill)\s+for\b`)

	reEstimateVocab = regexp.MustCompile(`\b(?:estimates?|quotes?|quotations?)\b`)
	reInvoiceVocab  = regexp.MustCompile(`\b(?:invoices?|bills?)\b`)
	reDocNoun       = regexp.MustCompile(`\b(?:invoices?|estimates?|quotes?|quotations?|bills?)\b`)

	reNumberedRef = regexp.MustCompile(`\b(inv|est)-?(\d+)\b`)
	reHashRef     = regexp.MustCompile(`(?:\b(invoice|estimate|quote|bill)\s+)?(?:number\s+|no\.?\s*)?#\s?(\d+)\b`)
	reNounNumRef  = regexp.MustCompile(`\b(invoice|estimate|quote|bill)\s+(number\s+|no\.?\s*)?(\d{2,})\b(?:\s+([a-z]+))?`)
	reCanonical   = regexp.MustCompile(`^(INV|EST)-?(\d+)$`)

	// 数字后紧跟计量单位时是数量，不是单据编号
	reQuantityUnit = regexp.MustCompile(`^(?:hours?|hrs?|minutes?|mins?|days?|nights?|weeks?|months?|years?|items?|units?|pieces?|pcs|books?|copies|copy|sessions?|visits?|lessons?|licen[cs]es?|seats?|boxes|box|bags?|pages?|words?|kg|lbs?|widgets?|products?|services?|shirts?|photos?|videos?|posts?)$`)

	reExistingDoc = regexp.MustCompile(`\b(?:this|that|last|previous|same|existing|current)\s+(invoice|estimate|quote|quotation|bill)\b`)
	reDemonstr    = regexp.MustCompile(`\b(?:this|that|the|last|previous|same|current|existing)\s+(invoice|estimate|quote|quotation|bill)\b`)
	reTheDoc      = regexp.MustCompile(`\bthe\s+(invoice|estimate|quote|quotation|bill)\b(\s+for\b)?`)

	// 代词只在作为动词宾语、介词宾语或所有格时才指向单据，"that's it"、"this week" 不算
	reObjectPronoun = regexp.MustCompile(`\b(?:change|update|set|make|remove|delete|edit|rename|fix|adjust|switch|turn|send|resend|email|share|show|view|open|display|see|mark|void|cancel|finali[sz]e|duplicate|copy|download|print|review|check)\s+(?:it|that|this|these|those|them)\b('[a-z]+)?`)
	rePrepPronoun   = regexp.MustCompile(`\b(?:to|on|onto|into|in|for|from|with)\s+(?:it|them)\b('[a-z]+)?`)
	reSubjPronoun   = regexp.MustCompile(`\b(?:is|was|has|does|did)\s+it\b|\bits\b`)

	reBusinessAttr = regexp.MustCompile(`\bmy\s+(?:business|company|address|phone|email|website|tax\s+id)\b`)

	reAggregate = regexp.MustCompile(`\b(?:who\s+owes|owes?\s+me|owed|outstanding|unpaid|overdue|past\s+due|how\s+much|how\s+many|revenue|earnings|income|summary|summari[sz]e|total\s+(?:billed|invoiced|owed|due)|(?:list|show|display|see|view)(?:\s+\S+){0,3}?\s+(?:invoices|estimates|quotes|clients))\b`)

	reMutationVerb = regexp.MustCompile(`\b(?:change|update|set|add|make|remove|delete|increase|decrease|lower|raise|switch|apply|put|edit|use|rename|include|bump|drop|turn|adjust|fix)\b`)
	reAttribute    = regexp.MustCompile(`\b(?:tax|vat|discount|colou?r|template|style|theme|design|logo|due\s+date|date|notes?|address|email|phone|quantity|qty|price|rate|amount|items?|currency|terms|paypal|stripe|bank|payment|name|description|purple|red|blue|green|black|orange|yellow|pink|teal|navy|gr[ae]y|gold)\b`)

	rePaymentTopic = regexp.MustCompile(`\b(?:paypal|stripe|venmo|bank\s+(?:transfer|details|account|info)|payment\s+(?:methods?|options?|details|link)|card\s+payments?|accept\s+(?:cards?|payments?))\b`)
	reDesignTopic  = regexp.MustCompile(`\b(?:colou?r|template|style|theme|design|logo|branding|purple|red|blue|green|black|orange|yellow|pink|teal|navy|gr[ae]y|gold)\b`)
)

// features 是从一条消息中提取的信号，规则只读取它们。
type features struct {
	text          string
	createKind    model.DocumentKind
	leadCreate    bool
	existingDoc   bool
	ref           *DocumentRef
	aggregate     bool
	pronoun       bool
	demonstrative model.DocumentKind
	theDoc        model.DocumentKind
	business      bool
	mutationVerb  bool
	attribute     bool
	docNoun       bool
	payment       bool
	design        bool
}

func extractFeatures(message string) features {
	text := normalizeText(message)
	f := features{
		text:         text,
		aggregate:    reAggregate.MatchString(text),
		pronoun:      hasObjectPronoun(text),
		business:     reBusinessAttr.MatchString(text),
		mutationVerb: reMutationVerb.MatchString(text),
		attribute:    reAttribute.MatchString(text),
		docNoun:      reDocNoun.MatchString(text),
		payment:      rePaymentTopic.MatchString(text),
		design:       reDesignTopic.MatchString(text),
		existingDoc:  reExistingDoc.MatchString(text),
	}
	if m := reDemonstr.FindStringSubmatch(text); m != nil {
		f.demonstrative = nounKind(m[1])
	}
	if m := reTheDoc.FindStringSubmatch(text); m != nil && m[2] == "" {
		f.theDoc = nounKind(m[1])
	}

	// 创建动词需与单据名词绑定；两类词汇混用时报价单优先
	for _, re := range []*regexp.Regexp{reCreateVerb, reCreateLead, reCreateLeadTo, reCreateNoun} {
		if m := re.FindStringSubmatch(text); m != nil {
			f.createKind = nounKind(m[1])
			f.leadCreate = re == reCreateLead || re == reCreateLeadTo
			break
		}
	}
	if f.createKind != "" && reEstimateVocab.MatchString(text) {
		f.createKind = model.KindEstimate
	}

	// 创建语句里只认明确的编号写法
	f.ref = findReference(text, false, f.createKind != "", f.leadCreate)
	if f.ref != nil {
		f.existingDoc = true
	}
	return f
}

func hasObjectPronoun(text string) bool {
	for _, re := range []*regexp.Regexp{reObjectPronoun, rePrepPronoun} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if m[1] == "" {
				return true
			}
		}
	}
	return reSubjPronoun.MatchString(text)
}

// rule 是有序规则表中的一项，命中即返回。
type rule struct {
	name  string
	apply func(f features, cc model.ChatContext) (Classification, bool)
}

var rules = []rule{
	{name: "create", apply: func(f features, cc model.ChatContext) (Classification, bool) {
		if f.createKind == "" || f.existingDoc {
			return Classification{}, false
		}
		// "the invoice" 在已有单据时指代该单据
		if f.theDoc != "" && cc.HasDocument() {
			return Classification{}, false
		}
		return Classification{
			Intents:    []Intent{createIntent(f.createKind)},
			Confidence: 0.9,
			Rationale:  fmt.Sprintf("creation verb bound to %s noun", f.createKind),
		}, true
	}},
	{name: "aggregate", apply: func(f features, _ model.ChatContext) (Classification, bool) {
		if !f.aggregate {
			return Classification{}, false
		}
		return Classification{
			Intents:    []Intent{IntentGeneralQuery, ModAnalytics},
			Confidence: 0.9,
			Rationale:  "aggregate or reporting question, read-only",
		}, true
	}},
	{name: "explicit_reference", apply: func(f features, cc model.ChatContext) (Classification, bool) {
		if f.ref == nil {
			return Classification{}, false
		}
		ref := *f.ref
		if ref.Kind == "" {
			ref.Kind = cc.LastDocumentType
		}
		if ref.Kind == "" {
			ref.Kind = model.KindInvoice
		}
		ref.Number = NormalizeNumber(ref.Kind, ref.Number)
		return Classification{
			Intents:          []Intent{manageIntent(ref.Kind)},
			Confidence:       0.95,
			Rationale:        fmt.Sprintf("explicit %s identifier %s", ref.Kind, ref.Number),
			UsesPriorContext: true,
			Reference:        &ref,
		}, true
	}},
	{name: "pronoun", apply: func(f features, cc model.ChatContext) (Classification, bool) {
		if (!f.pronoun && f.demonstrative == "") || !cc.HasDocument() {
			return Classification{}, false
		}
		// 没有单据在焦点时，修改自己的业务信息不指向旧单据
		if f.business && f.demonstrative == "" && !cc.DocumentInFocus {
			return Classification{}, false
		}
		kind := f.demonstrative
		if kind == "" {
			kind = cc.LastDocumentType
		}
		c := Classification{
			Intents:          []Intent{manageIntent(kind)},
			Confidence:       0.85,
			Rationale:        fmt.Sprintf("reference resolved to prior %s", kind),
			UsesPriorContext: true,
		}
		if f.mutationVerb && cc.DocumentInFocus && kind == cc.LastDocumentType {
			c.Intents = append(c.Intents, ModContextAwareUpdate)
		}
		return c, true
	}},
	{name: "attribute_mutation", apply: func(f features, cc model.ChatContext) (Classification, bool) {
		if !f.mutationVerb || !f.attribute || f.docNoun {
			return Classification{}, false
		}
		if cc.DocumentInFocus && cc.HasDocument() {
			return Classification{
				Intents:          []Intent{manageIntent(cc.LastDocumentType), ModContextAwareUpdate},
				Confidence:       0.75,
				Rationale:        fmt.Sprintf("bare attribute change applied to %s in focus", cc.LastDocumentType),
				UsesPriorContext: true,
			}, true
		}
		return Classification{
			Intents:    []Intent{IntentGeneralQuery},
			Confidence: 0.6,
			Rationale:  "bare attribute change with no document in focus, business-level",
		}, true
	}},
}

// Classify 根据当前消息与滚动上下文给出分类结果，纯函数。
func Classify(message string, cc model.ChatContext) Classification {
	f := extractFeatures(message)
	c := Classification{
		Intents:    []Intent{IntentGeneralQuery},
		Confidence: 0.5,
		Rationale:  "no routing rule matched",
	}
	for _, r := range rules {
		if res, ok := r.apply(f, cc); ok {
			c = res
			break
		}
	}
	if f.payment {
		c.Intents = append(c.Intents, ModPaymentSetup)
	}
	if f.design {
		c.Intents = append(c.Intents, ModDesignChange)
	}
	c.Intents = orderIntents(c.Intents)
	return c
}

// ClassifyWithHistory 在没有滚动上下文时，从历史消息推导上下文后再分类。
func ClassifyWithHistory(message string, history []model.ChatMessage) Classification {
	return Classify(message, DeriveContext(history))
}

// orderIntents 保留主意图在首位，修饰意图去重后按固定顺序排列。
func orderIntents(intents []Intent) []Intent {
	seen := make(map[Intent]bool, len(intents))
	for _, in := range intents[1:] {
		seen[in] = true
	}
	out := []Intent{intents[0]}
	for _, m := range modifierOrder {
		if seen[m] {
			out = append(out, m)
		}
	}
	return out
}

// DeriveContext 从历史消息中找出最近一次提及的单据，用于 Redis 中没有上下文时。
// 只有最后一轮问答提及单据时才视为 DocumentInFocus。
func DeriveContext(history []model.ChatMessage) model.ChatContext {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.IsError {
			continue
		}
		text := normalizeText(m.Content)
		var kind model.DocumentKind
		var number string
		if ref := findReference(text, true, false, false); ref != nil {
			kind, number = ref.Kind, ref.Number
		}
		if kind == "" {
			kind = mentionedKind(text)
		}
		if kind == "" {
			continue
		}
		if number != "" {
			number = NormalizeNumber(kind, number)
		}
		op := "view"
		if strings.Contains(text, "creat") {
			op = "create"
		}
		return model.ChatContext{
			LastDocumentType:   kind,
			LastDocumentNumber: number,
			LastOperation:      op,
			DocumentInFocus:    len(history)-i <= 2,
			UpdatedAt:          m.CreatedAt,
		}
	}
	return model.ChatContext{}
}

// NormalizeNumber 将 "#12"、"inv12"、"EST-7" 等写法规范为 "INV-0012" 形式。
func NormalizeNumber(kind model.DocumentKind, raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimPrefix(s, "#"))
	prefix, digits := kind.NumberPrefix(), s
	if m := reCanonical.FindStringSubmatch(s); m != nil {
		prefix, digits = m[1], m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// findReference 查找显式单据编号；last 为 true 时取最后一次出现。
// strict 用于创建语句：只接受带前缀、"number"、"no." 或 "#" 的编号；
// lead 表示单据名词本身作动词（"invoice 40 hours ..."），此时名词后的裸数字不算编号。
func findReference(text string, last, strict, lead bool) *DocumentRef {
	pick := func(refs []*DocumentRef) *DocumentRef {
		if len(refs) == 0 {
			return nil
		}
		if last {
			return refs[len(refs)-1]
		}
		return refs[0]
	}

	var refs []*DocumentRef
	for _, m := range reNumberedRef.FindAllStringSubmatch(text, -1) {
		kind := model.KindInvoice
		if m[1] == "est" {
			kind = model.KindEstimate
		}
		refs = append(refs, &DocumentRef{Kind: kind, Number: m[1] + "-" + m[2]})
	}
	if ref := pick(refs); ref != nil {
		return ref
	}

	for _, m := range reHashRef.FindAllStringSubmatch(text, -1) {
		if strict && m[1] == "" {
			continue
		}
		refs = append(refs, &DocumentRef{Kind: nounKind(m[1]), Number: m[2]})
	}
	if ref := pick(refs); ref != nil {
		return ref
	}

	for _, m := range reNounNumRef.FindAllStringSubmatch(text, -1) {
		if reQuantityUnit.MatchString(m[4]) {
			continue
		}
		if strict && lead && m[2] == "" {
			continue
		}
		refs = append(refs, &DocumentRef{Kind: nounKind(m[1]), Number: m[3]})
	}
	return pick(refs)
}

// mentionedKind 返回文本提及的单据类型，报价单词汇优先。
func mentionedKind(text string) model.DocumentKind {
	if reEstimateVocab.MatchString(text) {
		return model.KindEstimate
	}
	if reInvoiceVocab.MatchString(text) {
		return model.KindInvoice
	}
	return ""
}

func nounKind(noun string) model.DocumentKind {
	switch noun {
	case "invoice", "bill", "charge":
		return model.KindInvoice
	case "estimate", "quote", "quotation":
		return model.KindEstimate
	}
	return ""
}

func normalizeText(s string) string {
	s = strings.ToLower(strings.NewReplacer("’", "'", "‘", "'").Replace(s))
	return strings.Join(strings.Fields(s), " ")
}
