package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate10 = validator.New()

// validate runs struct-tag validation over every section of sys, collecting
// every failure rather than stopping at the first, so an operator fixes all
// configuration problems in one pass instead of a fix-rerun-fix loop.
func validate(sys *System) error {
	sections := map[string]any{
		"rate_limit":  sys.RateLimit,
		"concurrency": sys.Concurrency,
		"pipeline":    sys.Pipeline,
		"polling":     sys.Polling,
		"dispatch":    sys.Dispatch,
		"forge":       sys.Forge,
		"supervisor":  sys.Supervisor,
		"monitor":     sys.Monitor,
		"workspace":   sys.Workspace,
		"coordinator": sys.Coordinator,
		"escalation":  sys.Escalation,
		"secret_store": sys.SecretStore,
		"profile_dir":  sys.ProfileDir,
		"notify":       sys.Notify,
	}

	var errs []error
	for name, section := range sections {
		if err := validate10.Struct(section); err != nil {
			errs = append(errs, NewValidationError(name, "", err))
		}
	}
	for name, provider := range sys.LLMProviders {
		if err := validate10.Struct(provider); err != nil {
			errs = append(errs, NewValidationError("llm_providers", name, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d configuration error(s)", len(errs))
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
