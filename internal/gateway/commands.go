package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/dispatch"
	"github.com/rahul/trilha/internal/store"
)

// Engine is the part of the dispatcher the chat commands drive.
type Engine interface {
	Execute(ctx context.Context, actions []map[string]any, sessionID, userID string, fields map[string]any) (dispatch.Response, error)
	Step(ctx context.Context, sessionID, userID string, fields map[string]any) (dispatch.Response, error)
}

// BoardReader lists a session's cards.
type BoardReader interface {
	Board(ctx context.Context, sessionID string, includeDeprecated bool) ([]store.Card, error)
}

const helpText = `Comandos:
/status - etapa atual e o que falta
/proximo - executa o próximo passo da jornada
/confirmar - confirma a validação pendente
/quadro - mostra o quadro de tarefas
/feito <id> - marca uma tarefa como concluída

Para informar dados, envie linhas no formato "campo: valor".`

// Commands turns chat messages into dispatcher calls and renders replies.
type Commands struct {
	engine Engine
	board  BoardReader
	log    *zap.Logger
}

func NewCommands(engine Engine, board BoardReader, log *zap.Logger) *Commands {
	if log == nil {
		log = zap.NewNop()
	}
	return &Commands{engine: engine, board: board, log: log}
}

// ParseCommand splits "/cmd@bot args" into its parts.
func ParseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), head != ""
}

// ParseFields reads "campo: valor" lines. Lines without a colon are ignored.
func ParseFields(text string) map[string]any {
	fields := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		key = strings.Join(strings.Fields(key), "_")
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

// Handle answers one incoming message.
func (c *Commands) Handle(ctx context.Context, sessionID, userID, text string) string {
	cmd, args, ok := ParseCommand(text)
	if !ok {
		fields := ParseFields(text)
		if len(fields) == 0 {
			return helpText
		}
		return c.status(ctx, sessionID, userID, fields)
	}

	switch cmd {
	case "start", "ajuda", "help":
		return helpText
	case "status":
		return c.status(ctx, sessionID, userID, nil)
	case "proximo":
		resp, err := c.engine.Step(ctx, sessionID, userID, nil)
		if err != nil {
			return c.fail(sessionID, err)
		}
		return formatResults(resp)
	case "confirmar":
		resp, err := c.engine.Execute(ctx, []map[string]any{{"type": dispatch.TypeConfirmValidation}}, sessionID, userID, nil)
		if err != nil {
			return c.fail(sessionID, err)
		}
		return formatResults(resp)
	case "quadro":
		return c.boardText(ctx, sessionID)
	case "feito":
		return c.done(ctx, sessionID, userID, args)
	}
	return fmt.Sprintf("Comando desconhecido: /%s\n\n%s", cmd, helpText)
}

func (c *Commands) fail(sessionID string, err error) string {
	c.log.Error("command failed", zap.String("session", sessionID), zap.Error(err))
	return "Não consegui processar agora. Tente novamente em instantes."
}

func (c *Commands) status(ctx context.Context, sessionID, userID string, fields map[string]any) string {
	resp, err := c.engine.Execute(ctx, []map[string]any{{"type": dispatch.TypeNextActions}}, sessionID, userID, fields)
	if err != nil {
		return c.fail(sessionID, err)
	}
	res := resp.Results[0]
	if !res.Success {
		return "Erro: " + res.Error
	}
	next, _ := res.Data.(dispatch.NextActionsData)

	var b strings.Builder
	fmt.Fprintf(&b, "Etapa: %s\n", next.Stage)
	if next.Blocked {
		fmt.Fprintf(&b, "Aguardando sua validação para seguir para %s. Use /confirmar.\n", next.PendingValidation)
	}
	if len(next.Missing) > 0 {
		fmt.Fprintf(&b, "Falta informar: %s\n", strings.Join(next.Missing, ", "))
	}
	for _, a := range next.Actions {
		fmt.Fprintf(&b, "Próximo passo: %s\n", describe(a))
	}
	if next.CanAdvance && !next.Blocked {
		b.WriteString("Tudo pronto para avançar. Use /proximo.\n")
	}
	return strings.TrimSpace(b.String())
}

func (c *Commands) boardText(ctx context.Context, sessionID string) string {
	if c.board == nil {
		return "Quadro indisponível."
	}
	cards, err := c.board.Board(ctx, sessionID, false)
	if err != nil {
		return c.fail(sessionID, err)
	}
	return FormatBoard(cards)
}

func (c *Commands) done(ctx context.Context, sessionID, userID, ref string) string {
	if ref == "" {
		return "Uso: /feito <id>"
	}
	id := ref
	if c.board != nil {
		cards, err := c.board.Board(ctx, sessionID, false)
		if err != nil {
			return c.fail(sessionID, err)
		}
		var matches []string
		for _, card := range cards {
			if strings.HasPrefix(card.ID, ref) {
				matches = append(matches, card.ID)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Sprintf("Nenhuma tarefa com id %s.", ref)
		case 1:
			id = matches[0]
		default:
			return fmt.Sprintf("O id %s corresponde a %d tarefas; use mais caracteres.", ref, len(matches))
		}
	}
	resp, err := c.engine.Execute(ctx, []map[string]any{
		{"type": dispatch.TypeUpdateCardStatus, "card_id": id, "status": string(store.StatusDone)},
	}, sessionID, userID, nil)
	if err != nil {
		return c.fail(sessionID, err)
	}
	return formatResults(resp)
}

func describe(a map[string]any) string {
	params, _ := a["params"].(map[string]any)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	if len(parts) == 0 {
		return fmt.Sprint(a["type"])
	}
	return fmt.Sprintf("%v (%s)", a["type"], strings.Join(parts, ", "))
}

func formatResults(resp dispatch.Response) string {
	if len(resp.Results) == 0 {
		return fmt.Sprintf("Nada a fazer agora. Etapa: %s", resp.Stage)
	}
	var b strings.Builder
	for _, r := range resp.Results {
		if r.Success {
			fmt.Fprintf(&b, "✔ %s", r.Type)
			if r.ResourceID != "" {
				fmt.Fprintf(&b, " [%s]", short(r.ResourceID))
			}
		} else {
			fmt.Fprintf(&b, "✘ %s: %s", r.Type, r.Error)
		}
		b.WriteByte('\n')
	}
	if p := resp.Progress; p != nil {
		fmt.Fprintf(&b, "+%d xp (total %d, nível %d)", p.XPGained, p.TotalXP, p.Level)
		if p.LeveledUp {
			b.WriteString(" - subiu de nível!")
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Etapa: %s", resp.Stage)
	return b.String()
}

var columnOrder = []store.CardStatus{store.StatusTodo, store.StatusDoing, store.StatusBlocked, store.StatusDone}

var columnNames = map[store.CardStatus]string{
	store.StatusTodo:    "A fazer",
	store.StatusDoing:   "Fazendo",
	store.StatusBlocked: "Bloqueado",
	store.StatusDone:    "Feito",
}

// FormatBoard renders cards grouped by column.
func FormatBoard(cards []store.Card) string {
	if len(cards) == 0 {
		return "O quadro está vazio."
	}
	byStatus := map[store.CardStatus][]store.Card{}
	for _, c := range cards {
		byStatus[c.Status] = append(byStatus[c.Status], c)
	}
	var b strings.Builder
	for _, status := range columnOrder {
		column := byStatus[status]
		if len(column) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d)\n", columnNames[status], len(column))
		for _, c := range column {
			fmt.Fprintf(&b, "  [%s] %s", short(c.ID), c.Title)
			if c.Assignee != "" {
				fmt.Fprintf(&b, " - %s", c.Assignee)
			}
			if c.DueAt != nil {
				fmt.Fprintf(&b, " (até %s)", c.DueAt.Format("02/01"))
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String())
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
