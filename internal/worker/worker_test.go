package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAttempt_DefaultsToOneWhenAbsent(t *testing.T) {
	assert.Equal(t, 1, parseAttempt(nil))
	assert.Equal(t, 1, parseAttempt(map[string]interface{}{}))
}

func TestParseAttempt_DecodesFloat64FromJSON(t *testing.T) {
	assert.Equal(t, 3, parseAttempt(map[string]interface{}{"attempt": float64(3)}))
}

func TestParseAttempt_DecodesStringFallback(t *testing.T) {
	assert.Equal(t, 2, parseAttempt(map[string]interface{}{"attempt": "2"}))
}

func TestParseAttempt_InvalidStringDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, parseAttempt(map[string]interface{}{"attempt": "not-a-number"}))
}
