package signaling

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/po-studio/negotiator/engine"
	"github.com/po-studio/negotiator/internal/sdpdoc"
	"github.com/po-studio/negotiator/negotiation"
	"github.com/po-studio/negotiator/session"
)

func TestStatusFor(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{fmt.Errorf("remote: %w", sdpdoc.ErrMalformedSdp), http.StatusBadRequest},
		{session.ErrNoActiveSession, http.StatusConflict},
		{negotiation.ErrSuperseded, http.StatusConflict},
		{fmt.Errorf("create offer: %w", negotiation.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: no codecs", engine.ErrNegotiationFailure), http.StatusBadGateway},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	} {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}
