package rbac

import (
	"testing"

	"github.com/freelance-marketplace/backend/internal/models"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role string
		perm string
		want bool
	}{
		{models.RoleEmployer, PermCreateProject, true},
		{models.RoleEmployer, PermReleasePayment, true},
		{models.RoleEmployer, PermResolveDispute, false},
		{models.RoleFreelancer, PermSubmitMilestone, true},
		{models.RoleFreelancer, PermReleasePayment, false},
		{models.RoleFreelancer, PermConnectPayouts, true},
		{models.RoleAdmin, PermRefundEscrow, true},
		{models.RoleAdmin, PermCreateProject, false},
		{"guest", PermUpload, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestIsFinancialOperation(t *testing.T) {
	if !IsFinancialOperation(PermRefundEscrow) {
		t.Error("refund should be financial")
	}
	if IsFinancialOperation(PermUpload) {
		t.Error("upload should not be financial")
	}
}
