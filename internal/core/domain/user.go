package domain

type User struct {
	ID         string `json:"id"`
	EmployeeNo string `json:"employee_no"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Active     bool   `json:"active"`
	ResignDate Date   `json:"resign_date"`
}

type Location struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Category struct {
	ID               string `json:"id"`
	Code             string `json:"code"`
	Name             string `json:"name"`
	UsefulLifeMonths int    `json:"useful_life_months"`
}

type EOSInfo struct {
	ID          string `json:"id"`
	ProductName string `json:"product_name"`
	EOSDate     Date   `json:"eos_date"`
}
