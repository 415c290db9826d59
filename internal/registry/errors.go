package registry

import "errors"

var (
	// ErrDuplicateProvider is returned when registering a provider whose
	// name is already taken.
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrDuplicateTool is returned when a provider exposes two tools with
	// the same name, or a tool name collides across providers.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrEmptyName is returned when a provider or tool name is empty.
	ErrEmptyName = errors.New("name must not be empty")

	// ErrInvalidKind is returned when a tool declares an unknown kind.
	ErrInvalidKind = errors.New("invalid tool kind")

	// ErrProviderNotFound is returned when a provider lookup misses.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrToolNotFound is returned when a tool lookup misses.
	ErrToolNotFound = errors.New("tool not found")
)
