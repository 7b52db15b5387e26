package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{"JSONNumber", json.Number("42"), 42, false},
		{"JSONFloatNumber", json.Number("7.0"), 7, false},
		{"Float", float64(12), 12, false},
		{"FractionalFloat", 1.5, 0, true},
		{"String", " 15 ", 15, false},
		{"EmptyString", "", 0, true},
		{"NotANumber", "abc", 0, true},
		{"Nil", nil, 0, true},
		{"Bool", true, 1, false},
		{"Unsupported", []int{1}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInt64(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "sw1", ToString("sw1"))
	assert.Equal(t, "10", ToString(json.Number("10")))
	assert.Equal(t, "true", ToString(true))
}

func TestToIPv4(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{"Integer", json.Number("167772161"), "10.0.0.1", false},
		{"IntegerString", "3232235777", "192.168.1.1", false},
		{"Zero", json.Number("0"), "", false},
		{"Dotted", "172.16.0.9", "172.16.0.9", false},
		{"BadDotted", "300.1.1.1", "", true},
		{"Negative", json.Number("-1"), "", true},
		{"TooLarge", json.Number("4294967296"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToIPv4(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
