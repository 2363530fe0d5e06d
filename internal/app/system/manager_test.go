package system

import (
	"context"
	"errors"
	"testing"

	core "github.com/offerwatch/ingestor/internal/app/core/service"
)

type recordingService struct {
	name      string
	descr     core.Descriptor
	startErr  error
	stopErr   error
	startedAt *int
	stoppedAt *int
	seq       *int
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	*s.seq++
	*s.startedAt = *s.seq
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	*s.seq++
	*s.stoppedAt = *s.seq
	return s.stopErr
}

func (s *recordingService) Descriptor() core.Descriptor { return s.descr }

func TestManagerStartsInOrderAndStopsInReverse(t *testing.T) {
	seq := 0
	var aStart, aStop, bStart, bStop int
	a := &recordingService{name: "a", seq: &seq, startedAt: &aStart, stoppedAt: &aStop}
	b := &recordingService{name: "b", seq: &seq, startedAt: &bStart, stoppedAt: &bStop}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(b)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if aStart != 1 || bStart != 2 {
		t.Fatalf("expected a before b, got a=%d b=%d", aStart, bStart)
	}

	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if bStop != 3 || aStop != 4 {
		t.Fatalf("expected b before a on stop, got b=%d a=%d", bStop, aStop)
	}
}

func TestManagerStopsStartedServicesWhenLaterStartFails(t *testing.T) {
	seq := 0
	var aStart, aStop, bStart, bStop int
	a := &recordingService{name: "a", seq: &seq, startedAt: &aStart, stoppedAt: &aStop}
	b := &recordingService{name: "b", seq: &seq, startedAt: &bStart, stoppedAt: &bStop, startErr: errors.New("boom")}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(b)

	err := mgr.Start(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if aStart == 0 {
		t.Fatalf("expected a to have started")
	}
	if aStop == 0 {
		t.Fatalf("expected a to be stopped after b's failed start")
	}
	if bStart != 0 {
		t.Fatalf("expected b to never report a successful start")
	}
}

func TestManagerDescriptorsFiltersAndSorts(t *testing.T) {
	seq := 0
	var s1, s2, s3 int
	a := &recordingService{name: "a", seq: &seq, startedAt: &s1, stoppedAt: &s1, descr: core.Descriptor{Name: "a", Layer: core.LayerEngine}}
	b := &recordingService{name: "b", seq: &seq, startedAt: &s2, stoppedAt: &s2, descr: core.Descriptor{Name: "b", Layer: core.LayerIngress}}
	noDescr := &plainService{name: "c"}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(b)
	mgr.Register(noDescr)

	descr := mgr.Descriptors()
	if len(descr) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descr))
	}
	if descr[0].Name != "a" || descr[1].Name != "b" {
		t.Fatalf("expected layers sorted lexicographically (engine before ingress), got %#v", descr)
	}
	_ = s3
}

type plainService struct{ name string }

func (p *plainService) Name() string                     { return p.name }
func (p *plainService) Start(ctx context.Context) error { return nil }
func (p *plainService) Stop(ctx context.Context) error  { return nil }
