package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// Demo fabrica una identidad sintética sin tocar la red. Siempre válido.
// IsSynthetic=true es lo único que puede condicionar UI demo-only.
type Demo struct{}

// NewDemo crea el provider de demo.
func NewDemo() *Demo { return &Demo{} }

func (d *Demo) Mode() types.AuthMode { return types.AuthModeDemo }

func (d *Demo) Exchange(ctx context.Context) (*Token, error) {
	return &Token{
		Handle: "demo-" + uuid.NewString(),
		Identity: types.IdentitySummary{
			DisplayName:   "Demo Administrator",
			PrincipalName: "demo.admin@example.test",
			AuthMode:      types.AuthModeDemo,
			IsSynthetic:   true,
		},
	}, nil
}

func (d *Demo) Activate(ctx context.Context, tok *Token) error {
	tok.Activated = true
	return nil
}

func (d *Demo) Discard(ctx context.Context, tok *Token) {}

func (d *Demo) IsValid(ctx context.Context, rec *types.SessionRecord) bool {
	return rec != nil && rec.Mode == types.AuthModeDemo
}

func (d *Demo) SignOut(ctx context.Context, rec *types.SessionRecord) error { return nil }

func (d *Demo) Renew(ctx context.Context, rec *types.SessionRecord) (*Token, error) {
	// Una sesión demo no expira; si llegamos acá, re-fabricamos.
	tok, _ := d.Exchange(ctx)
	tok.Activated = true
	return tok, nil
}
