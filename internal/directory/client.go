package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/sugarrush/internal/directory/config"
	"github.com/iurnickita/sugarrush/internal/model"
)

// JSON ответы сервиса участников
type memberAnswer struct {
	ID     string   `json:"id"`
	Roles  []string `json:"roles"`
	Exempt bool     `json:"exempt"`
}

type holdersAnswer struct {
	Members []string `json:"members"`
}

// Client talks to the membership service over HTTP.
type Client struct {
	client  *resty.Client
	ownerID string
}

func NewClient(cfg config.Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().SetBaseURL(cfg.URL).SetTimeout(timeout)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Client{client: client, ownerID: cfg.OwnerID}
}

func (c *Client) ResolveCapabilities(ctx context.Context, actorID string) (model.Capabilities, error) {
	if actorID != "" && actorID == c.ownerID {
		return model.Capabilities{Preparer: true, Fulfiller: true, Manager: true, Owner: true}, nil
	}
	member, err := c.member(ctx, actorID)
	if err != nil {
		return model.Capabilities{}, err
	}
	var caps model.Capabilities
	for _, role := range member.Roles {
		switch model.Role(role) {
		case model.RolePreparer, model.RoleSeniorPreparer:
			caps.Preparer = true
		case model.RoleFulfiller, model.RoleSeniorFulfiller:
			caps.Fulfiller = true
		case model.RoleManager:
			caps.Manager = true
		case model.RoleOwner:
			caps.Owner = true
		}
	}
	return caps, nil
}

func (c *Client) IsExempt(ctx context.Context, actorID string) (bool, error) {
	member, err := c.member(ctx, actorID)
	if err != nil {
		return false, err
	}
	return member.Exempt, nil
}

func (c *Client) ListRoleHolders(ctx context.Context, role model.Role) ([]string, error) {
	setresp, err := c.client.R().SetContext(ctx).Get("/api/roles/" + string(role) + "/members")
	if err != nil {
		return nil, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer holdersAnswer
		err = json.Unmarshal(setresp.Body(), &answer)
		return answer.Members, err
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("role holders request status: %d", setresp.StatusCode())
	}
}

func (c *Client) RevokeRole(ctx context.Context, actorID string, role model.Role) error {
	return c.editRole(ctx, http.MethodDelete, actorID, role)
}

func (c *Client) GrantRole(ctx context.Context, actorID string, role model.Role) error {
	return c.editRole(ctx, http.MethodPut, actorID, role)
}

func (c *Client) member(ctx context.Context, actorID string) (memberAnswer, error) {
	setresp, err := c.client.R().SetContext(ctx).Get("/api/members/" + actorID)
	if err != nil {
		return memberAnswer{}, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer memberAnswer
		err = json.Unmarshal(setresp.Body(), &answer)
		return answer, err
	case http.StatusNotFound:
		// не участник: без ролей
		return memberAnswer{ID: actorID}, nil
	default:
		return memberAnswer{}, fmt.Errorf("member request status: %d", setresp.StatusCode())
	}
}

func (c *Client) editRole(ctx context.Context, method string, actorID string, role model.Role) error {
	setreq := c.client.R().SetContext(ctx)
	setreq.Method = method
	setreq.URL = "/api/members/" + actorID + "/roles/" + string(role)
	setresp, err := setreq.Send()
	if err != nil {
		return err
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return model.ErrNotFound
	default:
		return fmt.Errorf("%s role %s status: %d", method, role, setresp.StatusCode())
	}
}
