package dto

// ProvisionRequest carries the password chosen for the analytics account.
type ProvisionRequest struct {
	Password string `json:"password" validate:"required,min=8,max=25"`
}
