package models

import "time"

// ShippingDetail est la fiche livraison/facturation saisie par l'acheteur.
type ShippingDetail struct {
	ID         string    `json:"id"`
	UserID     *string   `json:"user_id,omitempty"`
	FullName   string    `json:"full_name" binding:"required"`
	Email      string    `json:"email" binding:"required,email"`
	Phone      string    `json:"phone"`
	Street     string    `json:"street" binding:"required"`
	City       string    `json:"city" binding:"required"`
	PostalCode string    `json:"postal_code" binding:"required"`
	Country    string    `json:"country" binding:"required"`
	CreatedAt  time.Time `json:"created_at"`
}
