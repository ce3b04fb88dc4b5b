package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Template renders the title and message for one notification type.
type Template struct {
	Type    Type
	Title   string
	Message string
}

// TemplateEngine holds per-type templates with {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Type]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[Type]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{Type: TypeChat, Title: "New message from {{sender}}", Message: "{{preview}}"},
		{Type: TypeAppointmentReminder, Title: "Appointment reminder", Message: "You have an appointment on {{date}} at {{time}}."},
		{Type: TypeAppointmentAccepted, Title: "Appointment accepted", Message: "Your appointment on {{date}} at {{time}} was accepted."},
		{Type: TypeAppointmentDeclined, Title: "Appointment declined", Message: "Your appointment on {{date}} at {{time}} was declined."},
		{Type: TypeAppointmentRescheduled, Title: "Appointment rescheduled", Message: "Your appointment was moved to {{date}} at {{time}}."},
		{Type: TypeMedicationReminder, Title: "Medication reminder", Message: "Time to take {{medication}}."},
		{Type: TypeOrderUpdate, Title: "Order update", Message: "Your order is now {{status}}."},
		{Type: TypePrescriptionUpdate, Title: "Prescription update", Message: "Your prescription request is now {{status}}."},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Type] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Type] = &t
}

// Render performs {{key}} replacement for the type's template. Keys absent
// from data are left as-is.
func (e *TemplateEngine) Render(typ Type, data map[string]string) (title, message string, err error) {
	e.mu.RLock()
	t, ok := e.templates[typ]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("no template for %q", typ)
	}

	r := placeholderReplacer(data)
	return r.Replace(t.Title), r.Replace(t.Message), nil
}

// placeholderReplacer substitutes every placeholder in one pass over the
// template, so values containing {{key}} are never expanded again.
func placeholderReplacer(data map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	return strings.NewReplacer(pairs...)
}

// apply fills a blank title or message from the template.
func (e *TemplateEngine) apply(r *Request) {
	if e == nil || (r.Title != "" && r.Message != "") {
		return
	}
	title, message, err := e.Render(r.Type, r.Data)
	if err != nil {
		return
	}
	if r.Title == "" {
		r.Title = title
	}
	if r.Message == "" {
		r.Message = message
	}
}
