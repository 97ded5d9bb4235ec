// Package kv define el almacenamiento clave/valor del lado del dispositivo
// (el equivalente al localStorage del navegador) y sus backends.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

// Store guarda valores opacos por clave. Set reemplaza el valor completo.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
