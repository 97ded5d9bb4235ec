package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"featherine-chat/internal/domain"
)

const maxImageBytes = 8 << 20

var errNotImage = errors.New("file is not an image")

// command es una linea de entrada ya separada en nombre y argumentos.
// name vacio significa texto libre para el modelo.
type command struct {
	name string
	args string
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{args: line}
	}
	name, args, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), args: strings.TrimSpace(args)}
}

// parseImageArgs separa "<ruta> [texto]".
func parseImageArgs(args string) (path, text string) {
	path, text, _ = strings.Cut(strings.TrimSpace(args), " ")
	return path, strings.TrimSpace(text)
}

// imageDataURL lee el archivo y lo devuelve como data URL, igual que el selector del navegador.
func imageDataURL(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%w: %s", errNotImage, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// parseIndex convierte "n" (1-based) en un indice valido de sessions.
func parseIndex(arg string, n int) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("choose a number between 1 and %d", n)
	}
	return i - 1, nil
}

// sessionTitle resume una sesion con la primera pregunta, como la barra lateral.
func sessionTitle(s domain.Session) string {
	title := "(empty)"
	for _, m := range s.Messages {
		if !m.IsUser() {
			continue
		}
		if text := strings.TrimSpace(m.Text); text != "" {
			title = text
		} else if m.Image != "" {
			title = "[image]"
		}
		break
	}
	if r := []rune(title); len(r) > 48 {
		title = string(r[:47]) + "…"
	}
	if s.CreatedAt.IsZero() {
		return title
	}
	return s.CreatedAt.Local().Format("2006-01-02 15:04") + "  " + title
}

// messageMarkdown es lo que se imprime de cada mensaje; las imagenes no se renderizan en terminal.
func messageMarkdown(m domain.Message) string {
	switch m.Kind {
	case domain.KindImage:
		return "_[image]_"
	case domain.KindTextAndImage:
		return "_[image]_\n\n" + m.Text
	default:
		return m.Text
	}
}
