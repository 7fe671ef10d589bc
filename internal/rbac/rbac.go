package rbac

import "github.com/freelance-marketplace/backend/internal/models"

// Permission constants
const (
	PermCreateProject    = "create_project"
	PermApplyToProject   = "apply_to_project"
	PermReviewMilestone  = "review_milestone"
	PermSubmitMilestone  = "submit_milestone"
	PermReleasePayment   = "release_payment"
	PermRaiseDispute     = "raise_dispute"
	PermResolveDispute   = "resolve_dispute"
	PermRefundEscrow     = "refund_escrow"
	PermConnectPayouts   = "connect_payouts"
	PermViewPaymentStats = "view_payment_stats"
	PermUpload           = "upload"
)

// RolePermissions defines what each role can do. Ownership of the project
// is checked separately by the services.
var RolePermissions = map[string][]string{
	models.RoleEmployer: {
		PermCreateProject, PermReviewMilestone, PermReleasePayment,
		PermRaiseDispute, PermUpload,
	},
	models.RoleFreelancer: {
		PermApplyToProject, PermSubmitMilestone, PermRaiseDispute,
		PermConnectPayouts, PermUpload,
		// Freelancer CANNOT: PermReleasePayment, PermRefundEscrow
	},
	models.RoleAdmin: {
		PermReleasePayment, PermResolveDispute, PermRefundEscrow,
		PermViewPaymentStats, PermUpload,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation reports whether the permission moves money.
func IsFinancialOperation(permission string) bool {
	return permission == PermReleasePayment || permission == PermRefundEscrow || permission == PermResolveDispute
}
