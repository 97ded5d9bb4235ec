package chat

import (
	"strings"

	"featherine-chat/internal/domain"
)

// Transcript proyecta la conversacion al formato rol/contenido del endpoint de completions.
// El texto del asistente se envia tal cual; solo se recorta el del usuario.
func Transcript(messages []domain.Message) []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, transcriptEntry(m))
	}
	return out
}

func transcriptEntry(m domain.Message) domain.TranscriptEntry {
	role := domain.RoleAssistant
	if m.IsUser() {
		role = domain.RoleUser
	}
	var content string
	switch m.Kind {
	case domain.KindImage:
		content = imageMarkdown(m.Image)
	case domain.KindTextAndImage:
		content = imageMarkdown(m.Image) + "\n\n" + strings.TrimSpace(m.Text)
	default:
		content = m.Text
		if m.IsUser() {
			content = strings.TrimSpace(m.Text)
		}
	}
	return domain.TranscriptEntry{Role: role, Content: content}
}

func imageMarkdown(url string) string {
	return "![image](" + url + ")"
}
