package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Operator is an allow-listed counter operator. Name decides the counter
// through queue.ResolveOperator.
type Operator struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

var defaultOperators = []Operator{
	{Name: "Admin Teller 1", Email: "Admin_Teller1@loket.com"},
	{Name: "Admin Teller 2", Email: "Admin_Teller2@loket.com"},
	{Name: "Admin VIP", Email: "Admin_TellerVIP@loket.com"},
	{Name: "Admin Customer Service", Email: "Admin_CustomerService@loket.com"},
}

type Directory struct {
	byEmail map[string]Operator
}

func NewDirectory(operators []Operator) (*Directory, error) {
	d := &Directory{byEmail: make(map[string]Operator, len(operators))}
	for _, op := range operators {
		op.Name = strings.TrimSpace(op.Name)
		op.Email = strings.TrimSpace(op.Email)
		if op.Name == "" || op.Email == "" || op.PasswordHash == "" {
			return nil, fmt.Errorf("operator %q: name, email and password_hash are required", op.Email)
		}
		d.byEmail[strings.ToLower(op.Email)] = op
	}
	return d, nil
}

// DefaultDirectory returns the built-in operators sharing one password.
func DefaultDirectory(password string) (*Directory, error) {
	if password == "" {
		return nil, fmt.Errorf("operator password is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	operators := make([]Operator, len(defaultOperators))
	for i, op := range defaultOperators {
		op.PasswordHash = hash
		operators[i] = op
	}
	return NewDirectory(operators)
}

// LoadDirectory reads a JSON array of operators.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var operators []Operator
	if err := json.Unmarshal(raw, &operators); err != nil {
		return nil, fmt.Errorf("decode operators file: %w", err)
	}
	return NewDirectory(operators)
}

// Authenticate matches the email case-insensitively.
func (d *Directory) Authenticate(email, password string) (Operator, error) {
	op, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Operator{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
