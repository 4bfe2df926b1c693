package assistant

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"foliochat/internal/models"
	"foliochat/internal/service/ai"
	"foliochat/internal/worker"
)

const (
	LocaleFrench  = "fr"
	LocaleEnglish = "en"
)

// Messages holds the user facing texts of one locale.
type Messages struct {
	Greeting string
	// Fallback and the probe hints take the provider name.
	Fallback         string
	ConfigUpdated    string // model, provider
	ErrorPrefix      string
	ConnectionError  string
	Busy             string
	ProbeSuccess     string // model
	ProbeFailed      string // status, provider, model
	ProbeUnreachable string // error, provider
	UnknownError     string
}

var catalog = map[string]Messages{
	LocaleFrench: {
		Greeting:         "Bonjour ! Je suis votre assistant IA, basé sur le modèle Gemma 3 1B.\n\nJe suis prêt à vous aider. Comment puis-je vous être utile aujourd'hui ?",
		Fallback:         "Désolé, je n'ai pas pu traiter votre demande. Veuillez vérifier qu'%s est en cours d'exécution.",
		ConfigUpdated:    "Configuration mise à jour. Utilisation du modèle \"%s\" via %s.",
		ErrorPrefix:      "Erreur",
		ConnectionError:  "Erreur de connexion",
		Busy:             "le serveur est occupé, réessayez dans un instant",
		ProbeSuccess:     "Connexion réussie au modèle \"%s\"",
		ProbeFailed:      "Échec de connexion: %s. Vérifiez qu'%s est en cours d'exécution et que le modèle \"%s\" est disponible.",
		ProbeUnreachable: "Erreur de connexion: %s. Vérifiez qu'%s est en cours d'exécution.",
		UnknownError:     "Erreur inconnue",
	},
	LocaleEnglish: {
		Greeting:         "Hello! I am your AI assistant, based on the Gemma 3 1B model.\n\nI am ready to help. How can I be of use today?",
		Fallback:         "Sorry, I could not process your request. Please check that %s is running.",
		ConfigUpdated:    "Configuration updated. Using model \"%s\" via %s.",
		ErrorPrefix:      "Error",
		ConnectionError:  "Connection error",
		Busy:             "the server is busy, please retry in a moment",
		ProbeSuccess:     "Successfully connected to model \"%s\"",
		ProbeFailed:      "Connection failed: %s. Check that %s is running and that the model \"%s\" is available.",
		ProbeUnreachable: "Connection error: %s. Check that %s is running.",
		UnknownError:     "Unknown error",
	},
}

var (
	supportedLocales = []string{LocaleFrench, LocaleEnglish}
	localeMatcher    = language.NewMatcher([]language.Tag{language.French, language.English})
)

// MessagesFor returns the catalog of locale, falling back to French.
func MessagesFor(locale string) Messages {
	if m, ok := catalog[locale]; ok {
		return m
	}
	return catalog[LocaleFrench]
}

func IsSupportedLocale(locale string) bool {
	_, ok := catalog[locale]
	return ok
}

// NegotiateLocale picks the explicit locale when supported, otherwise the best match for
// an Accept-Language header, otherwise fallback.
func NegotiateLocale(explicit, acceptLanguage, fallback string) string {
	explicit = strings.ToLower(strings.TrimSpace(explicit))
	if IsSupportedLocale(explicit) {
		return explicit
	}
	candidates := []string{explicit, acceptLanguage}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(candidate)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, index, confidence := localeMatcher.Match(tags...)
		if confidence != language.No {
			return supportedLocales[index]
		}
	}
	if IsSupportedLocale(fallback) {
		return fallback
	}
	return LocaleFrench
}

func (m Messages) fallbackTurn(cfg models.EndpointConfig) string {
	return fmt.Sprintf(m.Fallback, cfg.ProviderName())
}

func (m Messages) configUpdatedTurn(cfg models.EndpointConfig) string {
	return fmt.Sprintf(m.ConfigUpdated, cfg.Model, cfg.ProviderName())
}

// Diagnostic renders a request failure the way it is shown under the conversation.
func (m Messages) Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, worker.ErrDispatcherBusy) {
		return fmt.Sprintf("%s: %s", m.ErrorPrefix, m.Busy)
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Kind {
		case ai.KindTransport:
			return fmt.Sprintf("%s: %s", m.ConnectionError, causeText(reqErr))
		case ai.KindProtocol:
			msg := fmt.Sprintf("%s: %s", m.ErrorPrefix, statusLine(reqErr))
			if reqErr.Body != "" {
				msg += " - " + reqErr.Body
			}
			return msg
		}
	}
	return fmt.Sprintf("%s: %v", m.ErrorPrefix, err)
}

// ProbeMessage is the result line of an explicit connection test.
func (m Messages) ProbeMessage(cfg models.EndpointConfig, err error) string {
	if err == nil {
		return fmt.Sprintf(m.ProbeSuccess, cfg.Model)
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Kind {
		case ai.KindProtocol:
			return fmt.Sprintf(m.ProbeFailed, statusLine(reqErr), cfg.ProviderName(), cfg.Model)
		case ai.KindTransport:
			return fmt.Sprintf(m.ProbeUnreachable, causeText(reqErr), cfg.ProviderName())
		}
	}
	detail := err.Error()
	if detail == "" {
		detail = m.UnknownError
	}
	return fmt.Sprintf(m.ProbeUnreachable, detail, cfg.ProviderName())
}

func statusLine(reqErr *ai.RequestError) string {
	return strings.TrimSpace(fmt.Sprintf("%d %s", reqErr.StatusCode, reqErr.Status))
}

func causeText(reqErr *ai.RequestError) string {
	if reqErr.Cause != nil {
		return reqErr.Cause.Error()
	}
	return reqErr.Error()
}
