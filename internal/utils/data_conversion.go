package utils

import "github.com/shopspring/decimal"

// Helper functions
func BoolPtr(b bool) *bool {
	return &b
}

func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

func Int64Ptr(i int64) *int64 {
	return &i
}

func DecimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func StringPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NilIfEmpty maps "" to nil so optional text columns store NULL
func NilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
