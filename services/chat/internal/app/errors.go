package app

import "socratium/pkg/apperr"

var (
	errThreadNotFound      = apperr.NotFound("Thread not found")
	errProviderNotFound    = apperr.NotFound("Provider not found")
	errNoActiveProvider    = apperr.BadRequest("No active AI provider configured")
	errThreadProvider      = apperr.BadRequest("Thread provider not found")
	errProviderMismatch    = apperr.BadRequest("Active provider does not match this thread. Activate the thread's provider or start a new thread.")
	errUnsupportedProvider = apperr.BadRequest("Unsupported provider type")
	errInvalidPage         = apperr.BadRequest("Invalid page number")
	errMessageRequired     = apperr.BadRequest("Message is required")
	errThreadIDRequired    = apperr.BadRequest("Thread id is required")
	errTitleRequired       = apperr.BadRequest("Title is required")
	errNameRequired        = apperr.BadRequest("Provider name is required")
	errModelRequired       = apperr.BadRequest("Model is required")
	errAPIKeyRequired      = apperr.BadRequest("API key is required")
)
