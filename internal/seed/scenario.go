package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"devpress/internal/models"
	"devpress/internal/repository"
	"devpress/internal/validation"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed scenarios/demo.yaml
var demoScenario []byte

// Scenario is a hand-written data set: named users and the posts, reactions
// and comments between them.
type Scenario struct {
	Users []ScenarioUser `yaml:"users"`
	Posts []ScenarioPost `yaml:"posts"`
}

type ScenarioUser struct {
	Username    string `yaml:"username"`
	Email       string `yaml:"email"`
	DisplayName string `yaml:"displayName"`
	Password    string `yaml:"password"`
}

type ScenarioPost struct {
	Author    string            `yaml:"author"`
	Title     string            `yaml:"title"`
	Content   string            `yaml:"content"`
	Tags      []string          `yaml:"tags"`
	Draft     bool              `yaml:"draft"`
	Reactions map[string]string `yaml:"reactions"`
	Favorites []string          `yaml:"favorites"`
	Comments  []ScenarioComment `yaml:"comments"`
}

type ScenarioComment struct {
	Author  string   `yaml:"author"`
	Content string   `yaml:"content"`
	Likes   []string `yaml:"likes"`
}

// ParseScenario decodes and validates a YAML scenario. Unknown keys are
// rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenario reads and parses the scenario file at path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// DemoScenario returns the built-in demo data set.
func DemoScenario() (*Scenario, error) {
	return ParseScenario(demoScenario)
}

// Validate checks that every name a post or comment refers to is declared
// in Users and that every reaction is a supported type.
func (sc *Scenario) Validate() error {
	known := make(map[string]struct{}, len(sc.Users))
	for i, u := range sc.Users {
		if err := validation.ValidateUsername(u.Username); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		if _, dup := known[u.Username]; dup {
			return fmt.Errorf("users[%d]: duplicate username %q", i, u.Username)
		}
		known[u.Username] = struct{}{}
	}

	var errs []error
	check := func(where, name string) {
		if _, ok := known[name]; !ok {
			errs = append(errs, fmt.Errorf("%s: unknown user %q", where, name))
		}
	}

	for i, p := range sc.Posts {
		where := fmt.Sprintf("posts[%d]", i)
		check(where+".author", p.Author)
		if err := validation.ValidateTitle(p.Title); err != nil {
			errs = append(errs, fmt.Errorf("%s.title: %w", where, err))
		}
		for name, t := range p.Reactions {
			check(where+".reactions", name)
			if _, err := models.ParseReactionType(t); err != nil {
				errs = append(errs, fmt.Errorf("%s.reactions[%s]: %w", where, name, err))
			}
		}
		for _, name := range p.Favorites {
			check(where+".favorites", name)
		}
		for j, c := range p.Comments {
			cwhere := fmt.Sprintf("%s.comments[%d]", where, j)
			check(cwhere+".author", c.Author)
			if err := validation.ValidateCommentContent(c.Content); err != nil {
				errs = append(errs, fmt.Errorf("%s.content: %w", cwhere, err))
			}
			for _, name := range c.Likes {
				check(cwhere+".likes", name)
			}
		}
	}
	return errors.Join(errs...)
}

// ApplyScenario writes sc to db. Users that already exist are reused, so a
// scenario can be layered on top of a random seed run.
func ApplyScenario(ctx context.Context, db *gorm.DB, sc *Scenario, opts Options) (*Summary, error) {
	f := NewFactory(db, opts)
	sum := &Summary{}

	users := make(map[string]*models.User, len(sc.Users))
	for _, su := range sc.Users {
		user, created, err := f.scenarioUser(ctx, su)
		if err != nil {
			return sum, err
		}
		users[su.Username] = user
		if created {
			sum.Users++
		}
	}

	for _, sp := range sc.Posts {
		post, err := f.CreatePost(ctx, users[sp.Author], func(p *models.Post) {
			p.Title = sp.Title
			if sp.Content != "" {
				p.Content = sp.Content
			}
			p.SetTags(sp.Tags)
			p.Published = !sp.Draft
			p.PublishedAt = nil
			if p.Published {
				at := p.CreatedAt
				p.PublishedAt = &at
			}
		})
		if err != nil {
			return sum, err
		}
		sum.Posts++

		for name, t := range sp.Reactions {
			rt, _ := models.ParseReactionType(t)
			if err := f.React(ctx, users[name], post, rt); err != nil {
				return sum, fmt.Errorf("react on %q: %w", sp.Title, err)
			}
			sum.Reactions++
		}
		for _, name := range sp.Favorites {
			if err := f.Favorite(ctx, users[name], post); err != nil {
				return sum, fmt.Errorf("favorite %q: %w", sp.Title, err)
			}
			sum.Favorites++
		}
		for _, spc := range sp.Comments {
			comment, err := f.CreateComment(ctx, users[spc.Author], post, func(c *models.Comment) {
				c.Content = strings.TrimSpace(spc.Content)
			})
			if err != nil {
				return sum, err
			}
			sum.Comments++
			for _, name := range spc.Likes {
				if _, err := f.LikeComment(ctx, users[name], comment); err != nil {
					return sum, fmt.Errorf("like comment on %q: %w", sp.Title, err)
				}
				sum.CommentLikes++
			}
		}
	}
	return sum, nil
}

func (f *Factory) scenarioUser(ctx context.Context, su ScenarioUser) (*models.User, bool, error) {
	if !f.opts.DryRun {
		existing, err := f.users.GetByUsername(ctx, su.Username)
		switch {
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, false, err
		}
	}

	user, err := f.CreateUser(ctx, func(u *models.User) {
		u.Username = su.Username
		if su.Email != "" {
			email := su.Email
			u.Email = &email
		}
		if su.DisplayName != "" {
			u.DisplayName = su.DisplayName
		}
		if su.Password != "" {
			// SetPassword only fails on short input, which the factory
			// default already satisfies.
			_ = u.SetPassword(su.Password)
		}
	})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}
