// Package catalog fetches a project's screen/ticket tree, normalizes it and
// decides which buyer information a purchase has to carry.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Amorter/bili-ticket/internal/remote"
)

// ErrUnknownSelection is returned for screen or ticket ids outside the tree.
var ErrUnknownSelection = errors.New("selection not in catalog")

// Fetcher is the part of the platform client the catalog needs.
type Fetcher interface {
	ProjectInfo(ctx context.Context, projectID int64) (remote.Project, error)
}

// Catalog is a read-only Project → Screen → Ticket tree.
type Catalog struct {
	ProjectID   int64
	Name        string
	ImageURL    string
	SaleBegin   time.Time
	SaleEnd     time.Time
	BuyerInfo   string
	NeedContact int
	Mode        BuyerMode
	Screens     []Screen
}

type Screen struct {
	ID           int64
	Name         string
	DeliveryType int
	Tickets      []Ticket
}

type Ticket struct {
	SkuID     int64
	Desc      string
	Price     int64
	OnSale    bool
	Anonymous bool
	Clickable bool
}

// Screen looks up a screen by id.
func (c *Catalog) Screen(id int64) (Screen, error) {
	for _, screen := range c.Screens {
		if screen.ID == id {
			return screen, nil
		}
	}
	return Screen{}, fmt.Errorf("screen %d of project %d: %w", id, c.ProjectID, ErrUnknownSelection)
}

// Ticket looks up a ticket within a screen.
func (c *Catalog) Ticket(screenID, skuID int64) (Ticket, error) {
	screen, err := c.Screen(screenID)
	if err != nil {
		return Ticket{}, err
	}
	for _, ticket := range screen.Tickets {
		if ticket.SkuID == skuID {
			return ticket, nil
		}
	}
	return Ticket{}, fmt.Errorf("ticket %d of screen %d: %w", skuID, screenID, ErrUnknownSelection)
}

type Options struct {
	Logger *slog.Logger
}

// Client fetches catalogs.
type Client struct {
	fetcher Fetcher
	logger  *slog.Logger
}

func NewClient(fetcher Fetcher, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{fetcher: fetcher, logger: logger}
}

// Fetch loads and normalizes one project. It wraps remote.ErrNotFound when
// the platform has no such project and returns a *remote.MalformedResponse
// when the performance image cannot be resolved.
func (c *Client) Fetch(ctx context.Context, projectID int64) (*Catalog, error) {
	project, err := c.fetcher.ProjectInfo(ctx, projectID)
	if err != nil {
		c.logger.WarnContext(ctx, "catalog fetch failed",
			"operation", "fetch_catalog",
			"project_id", projectID,
			"error", err,
		)
		return nil, err
	}

	catalog, err := normalize(project)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "catalog fetched",
		"operation", "fetch_catalog",
		"project_id", projectID,
		"screens", len(catalog.Screens),
		"mode", catalog.Mode.String(),
	)
	return catalog, nil
}

func normalize(p remote.Project) (*Catalog, error) {
	image, err := resolveImage(p.PerformanceImage)
	if err != nil {
		return nil, err
	}

	screens := make([]Screen, 0, len(p.ScreenList))
	for _, s := range p.ScreenList {
		tickets := make([]Ticket, 0, len(s.TicketList))
		for _, t := range s.TicketList {
			tickets = append(tickets, Ticket{
				SkuID:     t.ID,
				Desc:      t.Desc,
				Price:     t.Price,
				OnSale:    t.IsSale == 1,
				Anonymous: t.AnonymousBuy,
				Clickable: t.Clickable,
			})
		}
		screens = append(screens, Screen{
			ID:           s.ID,
			Name:         s.Name,
			DeliveryType: s.DeliveryType,
			Tickets:      tickets,
		})
	}

	return &Catalog{
		ProjectID:   p.ID,
		Name:        p.Name,
		ImageURL:    image,
		SaleBegin:   unixOrZero(p.SaleBegin),
		SaleEnd:     unixOrZero(p.SaleEnd),
		BuyerInfo:   p.BuyerInfo,
		NeedContact: p.NeedContact,
		Mode:        ModeOf(p),
		Screens:     screens,
	}, nil
}

// resolveImage decodes the JSON document carried in performance_image and
// turns its scheme-relative first.url into an absolute URL.
func resolveImage(raw string) (string, error) {
	const field = "performance_image.first.url"
	if raw == "" {
		return "", &remote.MalformedResponse{Op: "fetch-project-catalog", Field: field}
	}

	var image struct {
		First *struct {
			URL string `json:"url"`
		} `json:"first"`
	}
	if err := remote.DecodeNested(raw, &image); err != nil {
		return "", &remote.MalformedResponse{Op: "fetch-project-catalog", Field: field, Err: err}
	}
	if image.First == nil || image.First.URL == "" {
		return "", &remote.MalformedResponse{Op: "fetch-project-catalog", Field: field}
	}

	url := image.First.URL
	if strings.HasPrefix(url, "//") {
		url = "http:" + url
	}
	return url, nil
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
