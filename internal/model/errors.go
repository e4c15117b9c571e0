package model

import (
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。メッセージはユーザー向けのポルトガル語。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, server, network
	Action   string // ユーザー向け対処方法

	// RetryAfter はロックアウト時の再試行までの待機時間。ゼロの場合はヘッダーを付与しない。
	RetryAfter time.Duration
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryServer     = "server"
	CategoryNetwork    = "network"
)

// 定義済みエラーコード
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeAccountLocked          = "ACCOUNT_LOCKED"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeConcursoNotFound       = "CONCURSO_NOT_FOUND"
	ErrCodeCategoryNotFound       = "CATEGORY_NOT_FOUND"
	ErrCodeSimuladoNotFound       = "SIMULADO_NOT_FOUND"
	ErrCodeFlashcardNotFound      = "FLASHCARD_NOT_FOUND"
	ErrCodeEditalFeedNotFound     = "EDITAL_FEED_NOT_FOUND"
	ErrCodeSlugConflict           = "SLUG_CONFLICT"
	ErrCodeSimuladoFinished       = "SIMULADO_FINISHED"
	ErrCodeInvalidURL             = "INVALID_URL"
	ErrCodeSSRFBlocked            = "SSRF_BLOCKED"
	ErrCodeFeedNotDetected        = "FEED_NOT_DETECTED"
	ErrCodeFetchFailed            = "FETCH_FAILED"
	ErrCodeParseFailed            = "PARSE_FAILED"
	ErrCodeDuplicateEditalFeed    = "DUPLICATE_EDITAL_FEED"
	ErrCodeFeedNotStopped         = "FEED_NOT_STOPPED"
	ErrCodeBackendNotConfigured   = "BACKEND_NOT_CONFIGURED"
	ErrCodeBackendUnavailable     = "BACKEND_UNAVAILABLE"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodeCSRFInvalid            = "CSRF_INVALID"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Verifique os dados informados e tente novamente.",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// メールアドレスの存在有無を推測させないよう、未登録の場合も同じエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "E-mail ou senha incorretos.",
		Category: CategoryAuth,
		Action:   "Confira seus dados. Após 3 tentativas sem sucesso o acesso é bloqueado por 5 minutos.",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "Este e-mail já está cadastrado.",
		Category: CategoryValidation,
		Action:   "Faça login ou utilize outro e-mail.",
	}
}

// NewAccountLockedError はロックアウト中エラーを生成する。
func NewAccountLockedError(retryAfter time.Duration) *APIError {
	minutes := int(retryAfter.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return &APIError{
		Code:       ErrCodeAccountLocked,
		Message:    "Muitas tentativas sem sucesso. Acesso temporariamente bloqueado.",
		Category:   CategoryAuth,
		Action:     fmt.Sprintf("Aguarde %d minuto(s) e tente novamente.", minutes),
		RetryAfter: retryAfter,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Autenticação necessária.",
		Category: CategoryAuth,
		Action:   "Faça login para continuar.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Você não tem permissão para acessar este recurso.",
		Category: CategoryAuth,
		Action:   "Entre com uma conta de administrador.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "Usuário não encontrado.",
		Category: CategoryAuth,
		Action:   "Faça login novamente.",
	}
}

// NewConcursoNotFoundError は concurso 未検出エラーを生成する。
func NewConcursoNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeConcursoNotFound,
		Message:  fmt.Sprintf("Concurso não encontrado: %s", ref),
		Category: CategoryValidation,
		Action:   "Selecione um concurso disponível na lista.",
	}
}

// NewCategoryNotFoundError はカテゴリ未検出エラーを生成する。
func NewCategoryNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("Categoria não encontrada: %s", ref),
		Category: CategoryValidation,
		Action:   "Selecione uma categoria disponível na lista.",
	}
}

// NewSimuladoNotFoundError は simulado 未検出エラーを生成する。
func NewSimuladoNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeSimuladoNotFound,
		Message:  fmt.Sprintf("Simulado não encontrado: %s", ref),
		Category: CategoryValidation,
		Action:   "Volte à lista de simulados e selecione outro.",
	}
}

// NewFlashcardNotFoundError はフラッシュカード未検出エラーを生成する。
func NewFlashcardNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeFlashcardNotFound,
		Message:  fmt.Sprintf("Flashcard não encontrado: %s", id),
		Category: CategoryValidation,
		Action:   "Atualize a lista de flashcards.",
	}
}

// NewEditalFeedNotFoundError は公示フィード未検出エラーを生成する。
func NewEditalFeedNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeEditalFeedNotFound,
		Message:  fmt.Sprintf("Fonte de editais não encontrada: %s", id),
		Category: CategoryValidation,
		Action:   "Confira o identificador da fonte.",
	}
}

// NewSlugConflictError はスラッグ重複エラーを生成する。
func NewSlugConflictError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSlugConflict,
		Message:  fmt.Sprintf("Já existe um registro com o identificador \"%s\".", slug),
		Category: CategoryValidation,
		Action:   "Altere o nome para gerar outro identificador.",
	}
}

// NewSimuladoFinishedError は確定済みの解答を更新しようとした場合のエラーを生成する。
func NewSimuladoFinishedError() *APIError {
	return &APIError{
		Code:     ErrCodeSimuladoFinished,
		Message:  "Este simulado já foi finalizado.",
		Category: CategoryValidation,
		Action:   "Consulte o resultado ou inicie outro simulado.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("URL inválida: %s", reason),
		Category: CategoryValidation,
		Action:   "Informe uma URL completa iniciada por http:// ou https://.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "O acesso a esta URL foi bloqueado pela política de segurança.",
		Category: CategoryValidation,
		Action:   "Informe o endereço público do site da banca. Redes locais e IPs privados não são permitidos.",
	}
}

// NewFeedNotDetectedError はフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("Nenhum feed RSS/Atom foi encontrado em: %s", url),
		Category: CategoryValidation,
		Action:   "Informe diretamente a URL do feed ou a página da banca onde ele é publicado.",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("Falha ao acessar a URL: %s", reason),
		Category: CategoryNetwork,
		Action:   "Confira a URL e tente novamente em alguns instantes.",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "Não foi possível interpretar o feed.",
		Category: CategoryValidation,
		Action:   "Verifique se a URL aponta para um feed RSS/Atom válido.",
	}
}

// NewDuplicateEditalFeedError は登録済みフィードの重複登録エラーを生成する。
func NewDuplicateEditalFeedError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEditalFeed,
		Message:  "Esta fonte de editais já está cadastrada.",
		Category: CategoryValidation,
		Action:   "Consulte a lista de fontes cadastradas.",
	}
}

// NewFeedNotStoppedError はフィードが停止状態でない場合のエラーを生成する。
func NewFeedNotStoppedError() *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotStopped,
		Message:  "A fonte de editais não está pausada.",
		Category: CategoryValidation,
		Action:   "A retomada só se aplica a fontes com coleta interrompida.",
	}
}

// NewBackendNotConfiguredError はバックエンドAPI未設定エラーを生成する。
func NewBackendNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendNotConfigured,
		Message:  "O serviço externo não está configurado.",
		Category: CategoryServer,
		Action:   "Contate o administrador do sistema.",
	}
}

// NewBackendUnavailableError はバックエンドAPI到達不能エラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "Não foi possível se comunicar com o serviço externo.",
		Category: CategoryNetwork,
		Action:   "Verifique sua conexão e tente novamente em alguns instantes.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(retryAfter time.Duration) *APIError {
	return &APIError{
		Code:       ErrCodeRateLimited,
		Message:    "Muitas requisições em pouco tempo.",
		Category:   CategoryNetwork,
		Action:     "Aguarde alguns instantes e tente novamente.",
		RetryAfter: retryAfter,
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "Token de segurança inválido ou ausente.",
		Category: CategoryAuth,
		Action:   "Recarregue a página e tente novamente.",
	}
}

// NewNotFoundError は存在しないルートへのアクセスエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Recurso não encontrado.",
		Category: CategoryValidation,
		Action:   "Confira o endereço solicitado.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Erro interno do servidor.",
		Category: CategoryServer,
		Action:   "Tente novamente em alguns instantes.",
	}
}
