// Package errors provides structured error handling for sopfusion.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (fatal at startup or reindex)
//   - 2XX: Corpus and index IO errors
//   - 3XX: Network errors talking to embedding or generation backends
//   - 4XX: Validation and malformed-response errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates corpus, file and index errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates backend connectivity errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates invalid input or unparseable backend output.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal means the engine cannot enter the Ready state.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning means a stage degraded to its fallback path.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownBackend = "ERR_103_UNKNOWN_BACKEND"
	ErrCodeCorpusInvalid  = "ERR_104_CORPUS_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeCorpusNotFound = "ERR_207_CORPUS_NOT_FOUND"
	ErrCodeIndexLocked    = "ERR_208_INDEX_LOCKED"
	ErrCodeIndexStale     = "ERR_209_INDEX_STALE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeCircuitOpen        = "ERR_303_CIRCUIT_OPEN"
	ErrCodeRateLimited        = "ERR_304_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidOptions    = "ERR_406_INVALID_OPTIONS"
	ErrCodeMalformedResponse = "ERR_407_MALFORMED_RESPONSE"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeGenerateFailed  = "ERR_504_GENERATE_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodeNoBackend       = "ERR_506_NO_BACKEND"
	ErrCodeNotReady        = "ERR_507_NOT_READY"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeCorpusInvalid, ErrCodeCorpusNotFound, ErrCodeNoBackend:
		return SeverityFatal
	case ErrCodeMalformedResponse, ErrCodeCircuitOpen:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
