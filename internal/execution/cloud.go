package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/segsight/segsight/internal/analysis"
)

func init() {
	Register(ModeCloud, func(deps Deps) (Strategy, error) {
		return newCloud(deps)
	})
}

// cloudStrategy runs inference through hosted backends. The adapters already
// speak the hosted APIs, so execution itself is local; what this strategy
// adds is the credential gate. Health fails fast when the credential file is
// missing instead of letting every segment discover it.
type cloudStrategy struct {
	credentialsFile string
	local           *localStrategy
	logger          *slog.Logger
}

func newCloud(deps Deps) (Strategy, error) {
	local, err := newLocal(deps)
	if err != nil {
		return nil, err
	}
	return &cloudStrategy{
		credentialsFile: deps.Config.CredentialsFile,
		local:           local,
		logger:          deps.logger().With(slog.String("strategy", ModeCloud)),
	}, nil
}

func (s *cloudStrategy) Name() string { return ModeCloud }

// Healthy verifies the credential file is present and readable.
func (s *cloudStrategy) Healthy(context.Context) error {
	if s.credentialsFile == "" {
		return fmt.Errorf("cloud mode requires analysis.credentials_file")
	}
	info, err := os.Stat(s.credentialsFile)
	if err != nil {
		return fmt.Errorf("cloud credentials: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("cloud credentials: %s is a directory", s.credentialsFile)
	}
	return nil
}

func (s *cloudStrategy) Execute(ctx context.Context, req Request) (analysis.CapabilityResult, error) {
	if err := s.Healthy(ctx); err != nil {
		return nil, analysis.NewError(analysis.KindUnconfigured, req.Capability, err)
	}
	return s.local.Execute(ctx, req)
}

func (s *cloudStrategy) Release() {
	s.local.Release()
}

var _ Strategy = (*cloudStrategy)(nil)
