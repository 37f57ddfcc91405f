package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	ProviderGithub = "github"
	githubAPIBase  = "https://api.github.com"
)

// Profile 第三方登录得到的身份，与提供方无关
type Profile struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

type GithubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	Name      string `json:"name"`
}

type GithubOAuth struct {
	config  *oauth2.Config
	apiBase string
}

func NewGithubOAuth(clientID, clientSecret, redirectURI string) *GithubOAuth {
	return &GithubOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: githubAPIBase,
	}
}

// Enabled 是否配置了 client id
func (g *GithubOAuth) Enabled() bool {
	return g.config.ClientID != ""
}

// GetAuthURL 获取 GitHub 授权 URL
func (g *GithubOAuth) GetAuthURL(state string) string {
	return g.config.AuthCodeURL(state)
}

// Authenticate 授权码换 token 后拉取用户信息
func (g *GithubOAuth) Authenticate(ctx context.Context, code string) (*Profile, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	user, err := g.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return user.Profile(), nil
}

// GetUser 获取 GitHub 用户信息
func (g *GithubOAuth) GetUser(ctx context.Context, token *oauth2.Token) (*GithubUser, error) {
	client := g.config.Client(ctx, token)

	resp, err := client.Get(g.apiBase + "/user")
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("github api error: %d %s", resp.StatusCode, string(body))
	}

	var user GithubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	// 公开邮箱为空时取主邮箱
	if user.Email == "" {
		if email, err := g.primaryEmail(client); err == nil {
			user.Email = email
		}
	}

	return &user, nil
}

func (g *GithubOAuth) primaryEmail(client *http.Client) (string, error) {
	resp, err := client.Get(g.apiBase + "/user/emails")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

// Profile 转为通用身份，name 为空时用 login
func (u *GithubUser) Profile() *Profile {
	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &Profile{
		Provider:  ProviderGithub,
		Subject:   strconv.FormatInt(u.ID, 10),
		Email:     u.Email,
		Name:      name,
		AvatarURL: u.AvatarURL,
	}
}
