package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskDecision_Err(t *testing.T) {
	tests := []struct {
		name     string
		decision RiskDecision
		wantErr  bool
	}{
		{"approve", RiskDecision{Decision: RiskApprove, RiskLevel: RiskLevelLow}, false},
		{"modify", RiskDecision{Decision: RiskModify, RiskLevel: RiskLevelMedium}, false},
		{"reject", RiskDecision{Decision: RiskReject, Reason: "Max exposure limit reached", RiskLevel: RiskLevelHigh}, true},
		{"hold", RiskDecision{Decision: RiskHold, Reason: "No trade signal from strategy engine", RiskLevel: RiskLevelLow}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Err()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var rr *RiskRejection
			require.True(t, errors.As(err, &rr))
			assert.Equal(t, tt.decision.Reason, rr.Reason)
			assert.Equal(t, tt.decision.RiskLevel, rr.Level)
			assert.Equal(t, "Risk check rejected: "+tt.decision.Reason, err.Error())
		})
	}
}
