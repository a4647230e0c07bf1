package browser

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/heeplr/document-dl/internal/document"
)

// Element adapts a rod element to document.Element.
type Element struct {
	el *rod.Element
}

var _ document.Element = Element{}

func NewElement(el *rod.Element) Element {
	return Element{el: el}
}

func (e Element) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

func (e Element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// Rod returns the wrapped element.
func (e Element) Rod() *rod.Element {
	return e.el
}
