package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// Injection classes reported by CheckParameterForInjection.
const (
	ClassSQLi = "sqli"
	ClassXSS  = "xss"
)

// InjectionCheckResult describes a value that looks like an injection attempt.
type InjectionCheckResult struct {
	Class       string // ClassSQLi or ClassXSS
	Fingerprint string // libinjection fingerprint, SQLi only
	ParamName   string // field path or parameter name that failed
	ParamValue  any
}

// CheckParameterForInjection runs libinjection over a value bound for the
// index store or a search query. Only strings are checked. Returns nil when
// the value is clean.
//
//	CheckParameterForInjection("$.notes", "'; DROP TABLE documents--")
//	// &InjectionCheckResult{Class: "sqli", Fingerprint: "s&1c", ...}
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok || strValue == "" {
		return nil
	}

	if isSQLi, fingerprint := libinjection.IsSQLi(strValue); isSQLi {
		return &InjectionCheckResult{
			Class:       ClassSQLi,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	if libinjection.IsXSS(strValue) {
		return &InjectionCheckResult{
			Class:      ClassXSS,
			ParamName:  paramName,
			ParamValue: value,
		}
	}

	return nil
}

// CheckAllParameters checks every value in params and returns the failures
// ordered by parameter name.
func CheckAllParameters(params map[string]any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range params {
		if result := CheckParameterForInjection(name, value); result != nil {
			results = append(results, result)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ParamName < results[j].ParamName
	})
	return results
}
