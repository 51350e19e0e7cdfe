// Package purchase models checkout metadata as a tagged union of purchase variants.
// A checkout session carries a flat string map; Parse turns it into exactly one
// typed variant, and each variant encodes itself back into that map.
package purchase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tutorlink/tutorbilling/domain/billing"
)

// Kind is the discriminator stored under the "type" metadata key.
type Kind string

const (
	KindContact         Kind = "contact_purchase"
	KindTeacherPremium  Kind = "premium_subscription"
	KindStudentPremium  Kind = "student_premium_subscription"
	KindTeacherPurchase Kind = "teacher_purchase"
)

// Kinds lists every purchase kind.
var Kinds = []Kind{KindContact, KindTeacherPremium, KindStudentPremium, KindTeacherPurchase}

// ParseKind validates a discriminator value.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// IsSubscription reports whether the kind is sold as a recurring subscription.
func (k Kind) IsSubscription() bool {
	return k == KindTeacherPremium || k == KindStudentPremium
}

// Metadata keys.
const (
	KeyType            = "type"
	KeyTeacherEmail    = "teacherEmail"
	KeyStudentEmail    = "studentEmail"
	KeyRequestID       = "requestId"
	KeyBuyerEmail      = "buyerEmail"
	KeyTargetTeacherID = "targetTeacherId"
)

var (
	// ErrMissingDiscriminator means the metadata has no type and no account field.
	ErrMissingDiscriminator = errors.New("purchase metadata has no discriminator")
	// ErrUnknownKind means the type field names no known purchase.
	ErrUnknownKind = errors.New("unknown purchase type")
	// ErrMissingField means a field required by the variant is absent.
	ErrMissingField = errors.New("purchase metadata missing required field")
	// ErrInvalidField means a field is present but malformed.
	ErrInvalidField = errors.New("purchase metadata field invalid")
	// ErrUnresolvedAccount means no account email could be determined.
	ErrUnresolvedAccount = errors.New("unresolved account")
)

// Purchase is one variant of checkout metadata.
type Purchase interface {
	Kind() Kind
	// Metadata encodes the variant, including its discriminator.
	Metadata() map[string]string
}

// Premium is implemented by the subscription variants.
type Premium interface {
	Purchase
	Account() (billing.AccountClass, string)
}

// ContactPurchase reveals a tutor's contact details for a tuition request.
type ContactPurchase struct {
	RequestID  string `validate:"required"`
	BuyerEmail string `validate:"omitempty,email"`
}

func (ContactPurchase) Kind() Kind { return KindContact }

func (p ContactPurchase) Metadata() map[string]string {
	return compact(map[string]string{
		KeyType:       string(KindContact),
		KeyRequestID:  p.RequestID,
		KeyBuyerEmail: p.BuyerEmail,
	})
}

// TeacherPurchase is one tutor buying another tutor's contact.
type TeacherPurchase struct {
	TargetTeacherID string `validate:"required"`
	BuyerEmail      string `validate:"omitempty,email"`
}

func (TeacherPurchase) Kind() Kind { return KindTeacherPurchase }

func (p TeacherPurchase) Metadata() map[string]string {
	return compact(map[string]string{
		KeyType:            string(KindTeacherPurchase),
		KeyTargetTeacherID: p.TargetTeacherID,
		KeyBuyerEmail:      p.BuyerEmail,
	})
}

// TeacherPremiumSubscription is a tutor's premium plan.
type TeacherPremiumSubscription struct {
	TeacherEmail string `validate:"required,email"`
}

func (TeacherPremiumSubscription) Kind() Kind { return KindTeacherPremium }

func (p TeacherPremiumSubscription) Metadata() map[string]string {
	return map[string]string{
		KeyType:         string(KindTeacherPremium),
		KeyTeacherEmail: p.TeacherEmail,
	}
}

func (p TeacherPremiumSubscription) Account() (billing.AccountClass, string) {
	return billing.ClassTutor, billing.NormalizeEmail(p.TeacherEmail)
}

// StudentPremiumSubscription is a student's premium plan.
type StudentPremiumSubscription struct {
	StudentEmail string `validate:"required,email"`
}

func (StudentPremiumSubscription) Kind() Kind { return KindStudentPremium }

func (p StudentPremiumSubscription) Metadata() map[string]string {
	return map[string]string{
		KeyType:         string(KindStudentPremium),
		KeyStudentEmail: p.StudentEmail,
	}
}

func (p StudentPremiumSubscription) Account() (billing.AccountClass, string) {
	return billing.ClassStudent, billing.NormalizeEmail(p.StudentEmail)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes metadata into its variant and validates it.
// Metadata without a type is inferred from the account fields, student first.
func Parse(md map[string]string) (Purchase, error) {
	kind, err := kindOf(md)
	if err != nil {
		return nil, err
	}

	var p Purchase
	switch kind {
	case KindContact:
		p = ContactPurchase{RequestID: get(md, KeyRequestID), BuyerEmail: get(md, KeyBuyerEmail)}
	case KindTeacherPurchase:
		p = TeacherPurchase{TargetTeacherID: get(md, KeyTargetTeacherID), BuyerEmail: get(md, KeyBuyerEmail)}
	case KindTeacherPremium:
		p = TeacherPremiumSubscription{TeacherEmail: get(md, KeyTeacherEmail)}
	case KindStudentPremium:
		p = StudentPremiumSubscription{StudentEmail: get(md, KeyStudentEmail)}
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks a variant's field constraints.
func Validate(p Purchase) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%w: %s %s", ErrMissingField, p.Kind(), fe.Field())
	}
	return fmt.Errorf("%w: %s %s (%s)", ErrInvalidField, p.Kind(), fe.Field(), fe.Tag())
}

func kindOf(md map[string]string) (Kind, error) {
	if t := get(md, KeyType); t != "" {
		return ParseKind(t)
	}
	switch {
	case get(md, KeyStudentEmail) != "":
		return KindStudentPremium, nil
	case get(md, KeyTeacherEmail) != "":
		return KindTeacherPremium, nil
	}
	return "", ErrMissingDiscriminator
}

// HasDiscriminator reports whether metadata carries enough to classify an account
// without a provider lookup.
func HasDiscriminator(md map[string]string) bool {
	return get(md, KeyType) != "" || get(md, KeyStudentEmail) != "" || get(md, KeyTeacherEmail) != ""
}

// WithKind returns a copy of md with the discriminator set when it is absent.
func WithKind(md map[string]string, k Kind) map[string]string {
	out := make(map[string]string, len(md)+1)
	for key, v := range md {
		out[key] = v
	}
	if k != "" && get(out, KeyType) == "" {
		out[KeyType] = string(k)
	}
	return out
}

// Classify determines the account class and email behind subscription metadata.
// A student is identified by studentEmail or the student premium type; everything
// else is a tutor. fallbackEmail (usually the provider customer's email) is used
// when the metadata carries no address.
func Classify(md map[string]string, fallbackEmail string) (billing.AccountClass, string, error) {
	class := billing.ClassTutor
	email := get(md, KeyTeacherEmail)
	if get(md, KeyStudentEmail) != "" || Kind(get(md, KeyType)) == KindStudentPremium {
		class = billing.ClassStudent
		email = get(md, KeyStudentEmail)
	}
	if email == "" {
		email = fallbackEmail
	}
	email = billing.NormalizeEmail(email)
	if email == "" {
		return class, "", ErrUnresolvedAccount
	}
	return class, email, nil
}

func get(md map[string]string, key string) string {
	if md == nil {
		return ""
	}
	return strings.TrimSpace(md[key])
}

func compact(md map[string]string) map[string]string {
	for k, v := range md {
		if v == "" {
			delete(md, k)
		}
	}
	return md
}
