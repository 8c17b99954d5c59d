package licensing

import "time"

type Payment struct {
	Email     string `json:"email"`
	ProductID int    `json:"product_id"`
}

type Order struct {
	OrderID      int       `json:"order_id"`
	Email        string    `json:"email"`
	ProductID    int       `json:"product_id"`
	PurchaseDate time.Time `json:"purchase_date"`
}

type Notification struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type LicenceFile struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}
