package domain

// ValidationResult is the verdict of an operator publish hook.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// PublishValidator lets operators reject descriptors before extraction.
type PublishValidator func(pkg Package) ValidationResult

func Accept() ValidationResult {
	return ValidationResult{Valid: true}
}

func Reject(reason string) ValidationResult {
	return ValidationResult{Reason: reason}
}

// Err converts a rejected result into a *ValidationError; nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Reason: r.Reason}
}
