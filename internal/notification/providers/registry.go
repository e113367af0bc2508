package providers

import "fmt"

// Canonical provider class names.
const (
	ClassGmailSMTPServer      = "GmailSMTPServer"
	ClassFirebasePushProvider = "FirebasePushProvider"
	ClassAfricasTalkingSMS    = "AfricasTalkingSMSProvider"
	ClassBelioSMS             = "BelioSMSProvider"
)

// Registry is the process-wide immutable map from class_name to adapter
// constructor. It also exposes each class's declared required config keys
// for diagnostic/admin tooling.
type Registry struct {
	constructors map[string]Constructor
	requiredKeys map[string][]string
}

// ErrUnknownProviderClass is returned by Build for an unregistered class_name.
// The Dispatch Engine logs it and moves on to the next provider. It is not
// told apart from other send failures: a job whose providers all fail this
// way is retried by the Worker like any other failed send.
type ErrUnknownProviderClass struct {
	ClassName string
}

func (e *ErrUnknownProviderClass) Error() string {
	return fmt.Sprintf("providers: unknown provider class %q", e.ClassName)
}

// NewRegistry builds the canonical registry of the four adapters this
// dispatch bus ships with.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
		requiredKeys: make(map[string][]string),
	}

	r.register(ClassGmailSMTPServer, NewGmailSMTPServer, gmailRequiredKeys)
	r.register(ClassFirebasePushProvider, NewFirebasePushProvider, firebaseRequiredKeys)
	r.register(ClassAfricasTalkingSMS, NewAfricasTalkingSMSProvider, africasTalkingRequiredKeys)
	r.register(ClassBelioSMS, NewBelioSMSProvider, belioRequiredKeys)

	return r
}

func (r *Registry) register(className string, ctor Constructor, requiredKeys []string) {
	r.constructors[className] = ctor
	r.requiredKeys[className] = requiredKeys
}

// Build instantiates the adapter registered under className with config.
func (r *Registry) Build(className string, config map[string]interface{}) (Adapter, error) {
	ctor, ok := r.constructors[className]
	if !ok {
		return nil, &ErrUnknownProviderClass{ClassName: className}
	}
	return ctor(config), nil
}

// RequiredKeys returns the declared required config keys for className.
func (r *Registry) RequiredKeys(className string) ([]string, bool) {
	keys, ok := r.requiredKeys[className]
	return keys, ok
}

// SupportedClasses lists every registered class_name.
func (r *Registry) SupportedClasses() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}
