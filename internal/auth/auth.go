package auth

import (
	"net/http"
	"strings"

	"github.com/iurnickita/sugarrush/internal/auth/config"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/token"
)

type Auth interface {
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

const (
	HeaderActorIDKey   = "X-Actor-Id"
	HeaderActorNameKey = "X-Actor-Name"
	cookieActorToken   = "sugarrushActorToken"
)

type auth struct {
	secret string
}

func NewAuth(cfg config.Config) Auth {
	return &auth{secret: cfg.Secret}
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// кто вызывает
		actor, err := a.getActor(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем поверх присланного клиентом
		r.Header.Set(HeaderActorIDKey, actor.ID)
		r.Header.Set(HeaderActorNameKey, actor.Name)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getActor(r *http.Request) (model.Actor, error) {
	// заголовок Authorization, затем куки
	tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		tokenCookie, err := r.Cookie(cookieActorToken)
		if err != nil {
			return model.Actor{}, token.ErrInvalidToken
		}
		tokenString = tokenCookie.Value
	}
	return token.GetActor(a.secret, tokenString)
}

// Actor reads the identity the middleware stored on the request.
func Actor(r *http.Request) model.Actor {
	return model.Actor{
		ID:   r.Header.Get(HeaderActorIDKey),
		Name: r.Header.Get(HeaderActorNameKey),
	}
}
