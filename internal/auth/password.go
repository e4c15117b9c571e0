package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/concurseiro/internal/model"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える入力を拒否する
	maxPasswordBytes = 72
	maxNameLength    = 100
)

// bcryptCost はパスワードハッシュのコスト。テストでは下げて使用する。
var bcryptCost = bcrypt.DefaultCost

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword はパスワードがハッシュと一致するかを返す。
// 不一致以外のエラー（ハッシュ形式不正など）はエラーとして返す。
func CheckPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// burnPasswordCheck は未登録メールアドレスでも登録済みと同程度の時間をかける。
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("concurseiro-dummy-password"), bcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// NormalizeEmail はメールアドレスを比較用に正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateRegistration は登録入力を検証する。
func validateRegistration(in RegisterInput) error {
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return model.NewValidationError("Informe um e-mail válido.")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.NewValidationError("Informe seu nome.")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return model.NewValidationError("O nome deve ter no máximo 100 caracteres.")
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return model.NewValidationError("A senha deve ter pelo menos 8 caracteres.")
	}
	if len(in.Password) > maxPasswordBytes {
		return model.NewValidationError("A senha deve ter no máximo 72 bytes.")
	}
	return nil
}
