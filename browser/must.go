package browser

import (
	"context"

	"github.com/guseggert/maestro/protocol/page"
)

// Must panics if err is non-nil. The Must* helpers are meant for tests and scripts.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

func Must2[V any](v V, err error) V {
	if err != nil {
		panic(err)
	}
	return v
}

func MustNew(ctx context.Context, opts ...Option) *Browser {
	return Must2(New(ctx, opts...))
}

func (b *Browser) MustNewPage(ctx context.Context) *Page {
	return Must2(b.NewPage(ctx))
}

func (b *Browser) MustClose(ctx context.Context) {
	Must(b.Close(ctx))
}

func (p *Page) MustNavigate(ctx context.Context, url string) *page.NavigateResult {
	return Must2(p.Navigate(ctx, url))
}

func (p *Page) MustPrintToPDF(ctx context.Context, opts page.PrintToPDFCommand) []byte {
	return Must2(p.PrintToPDF(ctx, opts))
}
