package sql

import (
	"fmt"
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
)

// InjectionCheckResult describes a filter value libinjection flagged.
type InjectionCheckResult struct {
	IsSQLi      bool
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string
	ParamValue  any
}

// Err converts the result into an error matching apperrors.ErrInjectionDetected.
// The offending value is left out of the message so it never reaches logs.
func (r *InjectionCheckResult) Err() error {
	if r == nil {
		return nil
	}
	return fmt.Errorf("filter %q (fingerprint %s): %w", r.ParamName, r.Fingerprint, apperrors.ErrInjectionDetected)
}

// CheckParameterForInjection runs libinjection over a search value. Only
// strings (and string slices) are checked; other values are bound as typed
// parameters and cannot carry SQL.
//
//	CheckParameterForInjection("username", "admin")        // nil
//	CheckParameterForInjection("username", "' OR '1'='1")  // IsSQLi
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	switch v := value.(type) {
	case string:
		if isSQLi, fingerprint := libinjection.IsSQLi(v); isSQLi {
			return &InjectionCheckResult{
				IsSQLi:      true,
				Fingerprint: string(fingerprint),
				ParamName:   paramName,
				ParamValue:  value,
			}
		}
	case []string:
		for _, s := range v {
			if r := CheckParameterForInjection(paramName, s); r != nil {
				return r
			}
		}
	}
	return nil
}

// CheckAllParameters checks every value and returns the flagged ones ordered
// by parameter name.
func CheckAllParameters(params map[string]any) []*InjectionCheckResult {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		if result := CheckParameterForInjection(name, params[name]); result != nil {
			results = append(results, result)
		}
	}
	return results
}
