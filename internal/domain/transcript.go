package domain

// TranscriptEntry es la proyeccion rol/contenido que se envia al endpoint de completions.
type TranscriptEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
