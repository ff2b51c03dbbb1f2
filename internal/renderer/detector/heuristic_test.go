package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/renderbot/crawlserve/internal/crawler"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	page := crawler.RenderedPage{
		StatusCode: 200,
		HTML:       "",
	}
	require.True(t, h.ShouldPromote(page))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	page := crawler.RenderedPage{
		StatusCode: 200,
		HTML:       `<div id="__next"></div>`,
	}
	require.True(t, h.ShouldPromote(page))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	page := crawler.RenderedPage{
		StatusCode: 200,
		HTML:       `<html><script>var a=1;</script><p>t</p></html>`,
	}
	require.True(t, h.ShouldPromote(page))
}

func TestHeuristic_ShouldPromote_StaticContentStays(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	page := crawler.RenderedPage{
		StatusCode: 200,
		HTML:       "<html><body><h1>Docs</h1><p>Plain server-rendered text with no scripts at all.</p></body></html>",
	}
	require.False(t, h.ShouldPromote(page))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	page := crawler.RenderedPage{
		StatusCode: 404,
		HTML:       "not found",
	}
	require.False(t, h.ShouldPromote(page))
}
