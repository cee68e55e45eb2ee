package chatbot

import (
	"strings"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/nlp"
)

// Stage is a named state in the per-phone conversation flow.
type Stage string

const (
	StageStart                     Stage = "start"
	StageAwaitingOption            Stage = "awaiting_option"
	StageCollectingNameProducts    Stage = "collecting_name_products"
	StageCollectingNameSupport     Stage = "collecting_name_support"
	StageCollectingProductInterest Stage = "collecting_product_interest"
	StageCollectingSupportIssue    Stage = "collecting_support_issue"
	StageAfterHoursInfo            Stage = "after_hours_info"
	StageCompleted                 Stage = "completed"
)

// Departments a transfer can target.
const (
	DeptSales         = "Vendas"
	DeptSupport       = "Suporte"
	DeptSupportUrgent = "Suporte Urgente"
	DeptGeneral       = "Atendimento Geral"
)

// NLP confidence needed to skip menu navigation from a menu stage, and the
// higher bar for a configured intent to jump straight to its target stage.
const (
	menuOverrideConfidence  = 0.5
	stageOverrideConfidence = 0.7
)

// StageContext is the typed bag of fields collected across a conversation.
// Extra is the escape hatch for genuinely dynamic data.
type StageContext struct {
	Name    string            `json:"name,omitempty"`
	Option  string            `json:"option,omitempty"`
	Product string            `json:"product,omitempty"`
	Issue   string            `json:"issue,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Turn is one inbound message dispatched against the current stage.
type Turn struct {
	Phone      string
	Text       string
	SenderName string
	Stage      Stage
	Context    StageContext
	NLP        nlp.Result
}

// Result is what a stage handler decides: the next stage, outbound send
// instructions, the updated context, and an optional human-transfer decision.
type Result struct {
	NextStage      Stage
	Outbound       []evolution.OutboundMessage
	Context        StageContext
	Transfer       bool
	TransferReason string
	Department     string
}

// Handler advances one conversation turn for one stage.
type Handler func(t *Turn) *Result

const menuText = "Como posso ajudar?\n" +
	"1 - Conhecer nossos produtos\n" +
	"2 - Falar com o suporte\n" +
	"3 - Horário de atendimento\n" +
	"4 - Falar com um atendente"

const afterHoursText = "Nosso horário de atendimento é de segunda a sexta, das 8h às 18h.\n" +
	"Fora desse horário, deixe sua mensagem que retornaremos assim que possível."

// stageHandlers is the dispatch table. Stages absent from the table fall into
// the engine's transfer catch-all, so the bot never loops silently on a state
// it does not understand.
var stageHandlers = map[Stage]Handler{
	StageStart:                     handleStart,
	StageAwaitingOption:            handleAwaitingOption,
	StageCollectingNameProducts:    handleCollectingNameProducts,
	StageCollectingNameSupport:     handleCollectingNameSupport,
	StageCollectingProductInterest: handleCollectingProductInterest,
	StageCollectingSupportIssue:    handleCollectingSupportIssue,
	StageAfterHoursInfo:            handleAfterHoursInfo,
	StageCompleted:                 handleCompleted,
}

func textMessage(phone, body string) evolution.OutboundMessage {
	return evolution.OutboundMessage{
		Type:  evolution.TypeText,
		Phone: phone,
		Data:  evolution.OutboundData{Message: body},
	}
}

// menuJump maps a confident NLP intent to the flow entry it stands for,
// letting users skip the numbered menu.
func menuJump(t *Turn) *Result {
	if t.NLP.Confidence < menuOverrideConfidence {
		return nil
	}
	switch t.NLP.Intent {
	case nlp.IntentProductInquiry:
		return enterProducts(t)
	case nlp.IntentSupportRequest, nlp.IntentComplaint:
		return enterSupport(t)
	}
	return nil
}

func enterProducts(t *Turn) *Result {
	t.Context.Option = "1"
	return &Result{
		NextStage: StageCollectingNameProducts,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, "Ótimo! Para começar, qual é o seu nome?")},
		Context:   t.Context,
	}
}

func enterSupport(t *Turn) *Result {
	t.Context.Option = "2"
	return &Result{
		NextStage: StageCollectingNameSupport,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, "Certo, vamos te ajudar. Qual é o seu nome?")},
		Context:   t.Context,
	}
}

func handleStart(t *Turn) *Result {
	if r := menuJump(t); r != nil {
		return r
	}

	greeting := "Olá"
	if t.SenderName != "" {
		greeting = "Olá, " + t.SenderName
	}
	return &Result{
		NextStage: StageAwaitingOption,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, greeting+"! Bem-vindo ao nosso atendimento.\n\n"+menuText)},
		Context:   t.Context,
	}
}

func handleAwaitingOption(t *Turn) *Result {
	switch strings.TrimSpace(t.Text) {
	case "1":
		return enterProducts(t)
	case "2":
		return enterSupport(t)
	case "3":
		t.Context.Option = "3"
		return &Result{
			NextStage: StageAfterHoursInfo,
			Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, afterHoursText)},
			Context:   t.Context,
		}
	case "4":
		t.Context.Option = "4"
		return &Result{
			NextStage:      StageCompleted,
			Context:        t.Context,
			Transfer:       true,
			TransferReason: "Cliente pediu atendimento humano",
			Department:     DeptGeneral,
		}
	}

	if r := menuJump(t); r != nil {
		return r
	}

	// Unrecognized input re-prompts with the same options.
	return &Result{
		NextStage: StageAwaitingOption,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, "Desculpe, não entendi. Responda com o número de uma das opções.\n\n"+menuText)},
		Context:   t.Context,
	}
}

// urgentSupport short-circuits the support path when the classifier flags a
// high-urgency request.
func urgentSupport(t *Turn) *Result {
	if t.NLP.Intent != nlp.IntentSupportRequest {
		return nil
	}
	urgency := t.NLP.Parameters["urgency_level"]
	if urgency != "high" && urgency != "alta" {
		return nil
	}
	return &Result{
		NextStage:      StageCompleted,
		Context:        t.Context,
		Transfer:       true,
		TransferReason: "Solicitação de suporte urgente",
		Department:     DeptSupportUrgent,
	}
}

func handleCollectingNameProducts(t *Turn) *Result {
	t.Context.Name = strings.TrimSpace(t.Text)
	return &Result{
		NextStage: StageCollectingProductInterest,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, "Prazer, "+t.Context.Name+"! Qual produto você gostaria de conhecer?")},
		Context:   t.Context,
	}
}

func handleCollectingNameSupport(t *Turn) *Result {
	if r := urgentSupport(t); r != nil {
		return r
	}

	t.Context.Name = strings.TrimSpace(t.Text)
	return &Result{
		NextStage: StageCollectingSupportIssue,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, "Obrigado, "+t.Context.Name+". Descreva o problema que você está enfrentando.")},
		Context:   t.Context,
	}
}

func handleCollectingProductInterest(t *Turn) *Result {
	t.Context.Product = strings.TrimSpace(t.Text)
	if t.Context.Product == "" && t.NLP.Parameters["mentioned_product"] != "" {
		t.Context.Product = t.NLP.Parameters["mentioned_product"]
	}
	return &Result{
		NextStage:      StageCompleted,
		Outbound:       []evolution.OutboundMessage{textMessage(t.Phone, "Perfeito! Vou te conectar com nossa equipe de vendas.")},
		Context:        t.Context,
		Transfer:       true,
		TransferReason: "Interesse em produto: " + t.Context.Product,
		Department:     DeptSales,
	}
}

func handleCollectingSupportIssue(t *Turn) *Result {
	if r := urgentSupport(t); r != nil {
		return r
	}

	t.Context.Issue = strings.TrimSpace(t.Text)
	return &Result{
		NextStage:      StageCompleted,
		Outbound:       []evolution.OutboundMessage{textMessage(t.Phone, "Entendido. Vou te encaminhar para nossa equipe de suporte.")},
		Context:        t.Context,
		Transfer:       true,
		TransferReason: "Problema relatado: " + t.Context.Issue,
		Department:     DeptSupport,
	}
}

func handleAfterHoursInfo(t *Turn) *Result {
	// Any follow-up returns the user to the menu.
	return &Result{
		NextStage: StageAwaitingOption,
		Outbound:  []evolution.OutboundMessage{textMessage(t.Phone, menuText)},
		Context:   t.Context,
	}
}

func handleCompleted(t *Turn) *Result {
	// A message after completion starts a fresh flow with the collected
	// context reset.
	fresh := &Turn{Phone: t.Phone, Text: t.Text, SenderName: t.SenderName, Stage: StageStart, NLP: t.NLP}
	return handleStart(fresh)
}
