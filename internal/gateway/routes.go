package gateway

import (
	"net/http"

	"github.com/nao1215/carehub/pkg/auth"
)

// Route は下流サービスに転送するルートの宣言。
type Route struct {
	Method  string
	Path    string
	Service string
	Policy  auth.Policy
	// AuthLimit がtrueの場合は通常より厳しい認証用のレート制限を使う。
	AuthLimit bool
	// RevokesToken がtrueの場合は転送前に提示されたアクセストークンを失効させる。
	RevokesToken bool
}

var clinicalRoles = []string{"admin", "doctor", "nurse"}

// リソースごとのアクセス要件。WebSocketのルーム参加にも同じものを使う。
var (
	authenticatedPolicy = auth.Policy{}

	patientReadPolicy   = auth.Policy{Roles: clinicalRoles, Permissions: []string{"patients:read"}}
	patientWritePolicy  = auth.Policy{Roles: clinicalRoles, Permissions: []string{"patients:write"}}
	patientDeletePolicy = auth.Policy{Roles: []string{"admin"}, Permissions: []string{"patients:delete"}}

	appointmentReadPolicy  = auth.Policy{Permissions: []string{"appointments:read"}}
	appointmentWritePolicy = auth.Policy{Permissions: []string{"appointments:write"}}

	billingReadPolicy  = auth.Policy{Roles: []string{"admin", "billing"}, Permissions: []string{"billing:read"}}
	billingWritePolicy = auth.Policy{Roles: []string{"admin", "billing"}, Permissions: []string{"billing:write"}}

	publishPolicy = auth.Policy{Roles: []string{"service", "admin"}}
)

// roomPolicies はsubscribe可能なリソースとそのアクセス要件。
func roomPolicies() map[string]auth.Policy {
	return map[string]auth.Policy{
		"patient":     patientReadPolicy,
		"appointment": appointmentReadPolicy,
		"invoice":     billingReadPolicy,
	}
}

// routes は下流サービスに転送するルートの一覧。下流のパスは受信したパスと同じ。
func routes() []Route {
	public := auth.Policy{Public: true}
	return []Route{
		// 認証
		{Method: http.MethodPost, Path: "/api/v1/auth/login", Service: ServiceAuth, Policy: public, AuthLimit: true},
		{Method: http.MethodPost, Path: "/api/v1/auth/register", Service: ServiceAuth, Policy: public, AuthLimit: true},
		{Method: http.MethodPost, Path: "/api/v1/auth/refresh", Service: ServiceAuth, Policy: public, AuthLimit: true},
		{Method: http.MethodPost, Path: "/api/v1/auth/logout", Service: ServiceAuth, Policy: authenticatedPolicy, RevokesToken: true},
		{Method: http.MethodGet, Path: "/api/v1/auth/me", Service: ServiceAuth, Policy: authenticatedPolicy},

		// 患者
		{Method: http.MethodGet, Path: "/api/v1/patients", Service: ServicePatient, Policy: patientReadPolicy},
		{Method: http.MethodGet, Path: "/api/v1/patients/:id", Service: ServicePatient, Policy: patientReadPolicy},
		{Method: http.MethodPost, Path: "/api/v1/patients", Service: ServicePatient, Policy: patientWritePolicy},
		{Method: http.MethodPut, Path: "/api/v1/patients/:id", Service: ServicePatient, Policy: patientWritePolicy},
		{Method: http.MethodPatch, Path: "/api/v1/patients/:id", Service: ServicePatient, Policy: patientWritePolicy},
		{Method: http.MethodDelete, Path: "/api/v1/patients/:id", Service: ServicePatient, Policy: patientDeletePolicy},

		// 予約
		{Method: http.MethodGet, Path: "/api/v1/appointments", Service: ServiceAppointment, Policy: appointmentReadPolicy},
		{Method: http.MethodGet, Path: "/api/v1/appointments/:id", Service: ServiceAppointment, Policy: appointmentReadPolicy},
		{Method: http.MethodPost, Path: "/api/v1/appointments", Service: ServiceAppointment, Policy: appointmentWritePolicy},
		{Method: http.MethodPut, Path: "/api/v1/appointments/:id", Service: ServiceAppointment, Policy: appointmentWritePolicy},
		{Method: http.MethodPatch, Path: "/api/v1/appointments/:id", Service: ServiceAppointment, Policy: appointmentWritePolicy},
		{Method: http.MethodPost, Path: "/api/v1/appointments/:id/cancel", Service: ServiceAppointment, Policy: appointmentWritePolicy},

		// 請求
		{Method: http.MethodGet, Path: "/api/v1/invoices", Service: ServiceBilling, Policy: billingReadPolicy},
		{Method: http.MethodGet, Path: "/api/v1/invoices/:id", Service: ServiceBilling, Policy: billingReadPolicy},
		{Method: http.MethodPost, Path: "/api/v1/invoices", Service: ServiceBilling, Policy: billingWritePolicy},
		{Method: http.MethodPut, Path: "/api/v1/invoices/:id", Service: ServiceBilling, Policy: billingWritePolicy},
		{Method: http.MethodGet, Path: "/api/v1/payments", Service: ServiceBilling, Policy: billingReadPolicy},
		{Method: http.MethodPost, Path: "/api/v1/payments", Service: ServiceBilling, Policy: billingWritePolicy},
	}
}
