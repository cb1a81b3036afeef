// Package tracker implements an optical-flow assisted SORT tracker as a Viam vision service
package tracker

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/gostream"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	vis "go.viam.com/rdk/vision"
	"go.viam.com/rdk/vision/classification"
	objdet "go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/rdk/vision/viscapture"
	viamutils "go.viam.com/utils"

	"github.com/viam-modules/flow-tracking/flowsort"
	"github.com/viam-modules/flow-tracking/opticalflow"
)

// ModelName is the name of the model
const (
	ModelName              = "flow-tracker"
	NewObjectDetectedLabel = "new-object-detected"
)

var (
	// Model is the colon-delimited-triplet viam:vision:flow-tracker
	Model                  = resource.NewModel("viam", "vision", ModelName)
	errUnimplemented       = errors.New("unimplemented")
	// DefaultMinConfidence is the detection score below which detections are ignored.
	DefaultMinConfidence   = 0.2
	// DefaultMaxFrequency is the highest rate, in frames per second, the stream is processed at.
	DefaultMaxFrequency    = 10.0
	// DefaultTriggerCoolDown is the number of seconds the new-object trigger stays up.
	DefaultTriggerCoolDown = 5.0
)

type allObjects struct {
	mutex   sync.RWMutex
	objects []trackedObject
}

type currentDetections struct {
	mutex      sync.RWMutex
	detections []objdet.Detection
}

func init() {
	resource.RegisterService(vision.API, Model, resource.Registration[vision.Service, *Config]{
		Constructor: newTracker,
	})
}

type myTracker struct {
	resource.Named
	logger        logging.Logger
	cancelFunc    context.CancelFunc
	cancelContext context.Context

	triggerCancelFunc context.CancelFunc
	triggerContext    context.Context

	activeBackgroundWorkers sync.WaitGroup
	currDetections          currentDetections
	currImg                 atomic.Pointer[image.Image]

	allFreshObjects allObjects

	newInstance atomic.Bool
	properties  vision.Properties

	cam     camera.Camera
	camName string

	// mu guards everything below; Reconfigure swaps it while the frame loop reads it.
	mu            sync.Mutex
	detector      vision.Service
	frequency     float64
	coolDown      float64
	minConfidence float64
	chosenLabels  map[string]float64
	params        flowsort.Params
	features      opticalflow.FeatureParams
	flow          opticalflow.FlowParams
	paramsChanged bool
	flowChanged   bool
	manager       *flowsort.Manager
	provider      *opticalflow.Provider
	announced     map[int]struct{}

	statsMutex sync.Mutex
	timeStats  []time.Duration
}

func newTracker(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (vision.Service, error) {
	t := &myTracker{
		Named:     conf.ResourceName().AsNamed(),
		logger:    logger,
		announced: make(map[int]struct{}),
		properties: vision.Properties{
			ClassificationSupported: true,
			DetectionSupported:      true,
			ObjectPCDsSupported:     false,
		},
		allFreshObjects: allObjects{
			objects: []trackedObject{},
		},
	}

	if err := t.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}

	cancelableCtx, cancel := context.WithCancel(context.Background())
	t.cancelFunc = cancel
	t.cancelContext = cancelableCtx

	stream, err := t.cam.Stream(t.cancelContext, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	t.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		t.run(stream, t.cancelContext)
	}, func() {
		t.cancelFunc()
		stream.Close(t.cancelContext)
		t.activeBackgroundWorkers.Done()
	})

	return t, nil
}

// run is a (cancelable) infinite loop that takes a frame and its detections, coasts
// the live tracks on optical flow and associates them with the new detections.
func (t *myTracker) run(stream gostream.VideoStream, cancelableCtx context.Context) {
	for {
		select {
		case <-cancelableCtx.Done():
			return
		default:
			start := time.Now()
			img, _, err := stream.Next(cancelableCtx)
			if err != nil {
				t.logger.Errorf("can't get image. got err: %s", err)
				continue
			}
			if img == nil {
				t.logger.Errorf("got nil image")
				continue
			}
			frequency, err := t.processFrame(cancelableCtx, img)
			if err != nil {
				t.logger.Errorf("can't track frame. got err: %s", err)
				continue
			}

			took := time.Since(start)
			t.statsMutex.Lock()
			t.timeStats = append(t.timeStats, took)
			t.statsMutex.Unlock()
			waitFor := time.Duration((1/frequency)*float64(time.Second)) - took
			if waitFor > time.Microsecond {
				select {
				case <-cancelableCtx.Done():
					return
				case <-time.After(waitFor):
				}
			}
		}
	}
}

// processFrame detects, tracks and publishes one frame. It returns the loop frequency
// in effect for that frame.
func (t *myTracker) processFrame(ctx context.Context, img image.Image) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	detections, err := t.detector.Detections(ctx, img, nil)
	if err != nil {
		return t.frequency, errors.Wrap(err, "can't get detections")
	}
	tracked, fresh, err := t.step(img, detections)
	if err != nil {
		return t.frequency, err
	}
	t.publish(img, tracked, fresh)
	return t.frequency, nil
}

// step runs one frame through the flow provider and the manager. It returns the
// reported tracks as labelled detections and the ones reported for the first time.
// t.mu must be held.
func (t *myTracker) step(img image.Image, detections []objdet.Detection) ([]objdet.Detection, []trackedObject, error) {
	dets := FilterDetections(t.chosenLabels, detections, t.minConfidence)

	if err := t.applyParams(); err != nil {
		return nil, nil, err
	}

	gray, err := opticalflow.ToGray(img)
	if err != nil {
		return nil, nil, err
	}
	defer gray.Close()

	bounds := img.Bounds()
	switch {
	case t.manager == nil:
		manager, err := flowsort.NewManager(t.params, bounds.Dx(), bounds.Dy(), t.logger, nil)
		if err != nil {
			return nil, nil, err
		}
		t.manager = manager
	case t.manager.Mask().Width() != bounds.Dx() || t.manager.Mask().Height() != bounds.Dy():
		t.logger.Warnf("frame size changed to %dx%d, restarting tracks", bounds.Dx(), bounds.Dy())
		if err := t.manager.Resize(bounds.Dx(), bounds.Dy()); err != nil {
			return nil, nil, err
		}
	}

	flow, err := t.provider.Next(gray, t.manager.Mask(), t.manager.NumTracks() > 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to compute flow")
	}
	_, reported, err := t.manager.Update(dets, flow)
	if err != nil {
		return nil, nil, err
	}

	tracked := toDetections(reported)
	var fresh []trackedObject
	now := GetTimestamp()
	for _, det := range tracked {
		obj, err := newTrackedObjectFromLabel(det.Label(), now)
		if err != nil {
			t.logger.Error(err)
			continue
		}
		if _, ok := t.announced[obj.Id]; ok {
			continue
		}
		t.announced[obj.Id] = struct{}{}
		fresh = append(fresh, obj)
	}
	t.forgetDeadTracks()
	return tracked, fresh, nil
}

// applyParams hands reconfigured tracking parameters to the manager and rebuilds the
// flow provider. Live tracks and the identity sequence survive. t.mu must be held.
func (t *myTracker) applyParams() error {
	if t.paramsChanged && t.manager != nil {
		if err := t.manager.SetParams(t.params); err != nil {
			return err
		}
	}
	t.paramsChanged = false
	if t.flowChanged && t.provider != nil {
		if err := t.provider.Close(); err != nil {
			t.logger.Warnf("unable to release flow provider: %s", err)
		}
		t.provider = nil
	}
	t.flowChanged = false
	if t.provider == nil {
		provider, err := opticalflow.NewProvider(t.features, t.flow, t.logger)
		if err != nil {
			return err
		}
		t.provider = provider
	}
	return nil
}

// forgetDeadTracks drops announced identities whose track has been pruned.
func (t *myTracker) forgetDeadTracks() {
	live := make(map[int]struct{}, t.manager.NumTracks())
	for _, tr := range t.manager.Tracks() {
		live[tr.ID] = struct{}{}
	}
	for id := range t.announced {
		if _, ok := live[id]; !ok {
			delete(t.announced, id)
		}
	}
}

// publish stores what the queries serve. t.mu must be held.
func (t *myTracker) publish(img image.Image, tracked []objdet.Detection, fresh []trackedObject) {
	if len(fresh) > 0 {
		//trigger classification and schedule "untrigger"
		t.trigger(t.coolDown)

		t.allFreshObjects.mutex.Lock()
		t.allFreshObjects.objects = append(t.allFreshObjects.objects, fresh...)
		t.allFreshObjects.mutex.Unlock()
	}
	t.currDetections.mutex.Lock()
	t.currDetections.detections = tracked
	t.currDetections.mutex.Unlock()
	t.currImg.Store(&img)
}

func (t *myTracker) trigger(coolDown float64) {
	if t.triggerCancelFunc != nil {
		t.triggerCancelFunc()
	}
	triggerContext, triggerCancelFunc := context.WithCancel(t.cancelContext)
	t.triggerContext = triggerContext
	t.triggerCancelFunc = triggerCancelFunc

	t.newInstance.Store(true)
	t.activeBackgroundWorkers.Add(1)

	viamutils.ManagedGo(
		func() {
			coolDownTimer := time.After(time.Duration(coolDown * float64(time.Second)))
			select {
			case <-coolDownTimer:
				t.newInstance.Store(false)
				return
			case <-triggerContext.Done():
				return
			}
		},
		func() {
			t.activeBackgroundWorkers.Done()
		})
}

// Reconfigure reconfigures with new settings. Tracking parameters take effect on the
// next frame; a different camera needs a new stream, so the service is rebuilt.
func (t *myTracker) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	trackerConfig, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return errors.Errorf("Could not assert proper config for %s", ModelName)
	}
	if _, err := trackerConfig.Validate(conf.Name); err != nil {
		return err
	}
	if t.camName != "" && t.camName != trackerConfig.CameraName {
		return resource.NewMustRebuildError(conf.ResourceName())
	}

	cam, err := camera.FromDependencies(deps, trackerConfig.CameraName)
	if err != nil {
		return errors.Wrapf(err, "unable to get camera %v for flow tracker", trackerConfig.CameraName)
	}
	detector, err := vision.FromDependencies(deps, trackerConfig.DetectorName)
	if err != nil {
		return errors.Wrapf(err, "unable to get detector %v for flow tracker", trackerConfig.DetectorName)
	}
	if err := t.applyConfig(trackerConfig); err != nil {
		return err
	}

	t.statsMutex.Lock()
	t.timeStats = nil
	t.statsMutex.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cam = cam
	t.camName = trackerConfig.CameraName
	t.detector = detector
	return nil
}

// applyConfig takes every attribute that does not name a dependency.
func (t *myTracker) applyConfig(cfg *Config) error {
	params, features, flow, err := cfg.trackingParams()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.frequency = cfg.MaxFrequency
	// Default value for frequency = 10Hz
	if t.frequency == 0 {
		t.frequency = DefaultMaxFrequency
	}
	if cfg.TriggerCoolDown != nil {
		t.coolDown = *cfg.TriggerCoolDown
	} else {
		t.coolDown = DefaultTriggerCoolDown
	}
	if cfg.MinConfidence != nil {
		t.minConfidence = *cfg.MinConfidence
	} else {
		t.minConfidence = DefaultMinConfidence
	}
	t.chosenLabels = cfg.ChosenLabels

	if params != t.params {
		t.params = params
		t.paramsChanged = true
	}
	if features != t.features || flow != t.flow {
		t.features, t.flow = features, flow
		t.flowChanged = true
	}
	return nil
}

func (t *myTracker) currentDetections() []objdet.Detection {
	t.currDetections.mutex.RLock()
	defer t.currDetections.mutex.RUnlock()
	return t.currDetections.detections
}

func (t *myTracker) currentClassifications() classification.Classifications {
	if t.newInstance.Load() {
		return classification.Classifications{classification.NewClassification(1, NewObjectDetectedLabel)}
	}
	return classification.Classifications{}
}

func (t *myTracker) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]objdet.Detection, error) {
	if cameraName != t.camName {
		return nil, errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, t.camName)
	}
	select {
	case <-t.cancelContext.Done():
		return nil, t.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return t.currentDetections(), nil
	}
}

func (t *myTracker) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objdet.Detection, error) {
	select {
	case <-t.cancelContext.Done():
		return nil, t.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return t.currentDetections(), nil
	}
}

func (t *myTracker) ClassificationsFromCamera(
	ctx context.Context,
	cameraName string,
	n int,
	extra map[string]interface{},
) (classification.Classifications, error) {
	if cameraName != t.camName {
		return nil, errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, t.camName)
	}
	return t.currentClassifications(), nil
}

func (t *myTracker) Classifications(ctx context.Context, img image.Image,
	n int, extra map[string]interface{},
) (classification.Classifications, error) {
	return t.currentClassifications(), nil
}

func (t *myTracker) GetProperties(ctx context.Context, extra map[string]interface{}) (*vision.Properties, error) {
	return &t.properties, nil
}

func (t *myTracker) GetObjectPointClouds(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]*vis.Object, error) {
	return nil, errUnimplemented
}

func (t *myTracker) CaptureAllFromCamera(
	ctx context.Context,
	cameraName string,
	opt viscapture.CaptureOptions,
	extra map[string]interface{},
) (viscapture.VisCapture, error) {
	var detections []objdet.Detection
	var classifications classification.Classifications
	var img image.Image
	select {
	case <-t.cancelContext.Done():
		return viscapture.VisCapture{}, t.cancelContext.Err()
	case <-ctx.Done():
		return viscapture.VisCapture{}, ctx.Err()
	default:
		if opt.ReturnImage {
			if cameraName != t.camName {
				return viscapture.VisCapture{}, errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, t.camName)
			}
			if stored := t.currImg.Load(); stored != nil {
				img = *stored
			}
		}
		if opt.ReturnDetections {
			detections = t.currentDetections()
		}
		if opt.ReturnClassifications {
			classifications = t.currentClassifications()
		}
	}
	return viscapture.VisCapture{Image: img, Detections: detections, Classifications: classifications}, nil
}

func (t *myTracker) Close(ctx context.Context) error {
	t.cancelFunc()
	t.activeBackgroundWorkers.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider != nil {
		return t.provider.Close()
	}
	return nil
}

// DoCommand will return the slowest, fastest, and average time of the tracking loop
// ("benchmark") and every identity announced so far ("logs").
func (t *myTracker) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if cmd["benchmark"] != nil {
		t.statsMutex.Lock()
		out["benchmark"] = newBenchmark(t.timeStats)
		t.statsMutex.Unlock()
	}
	if cmd["logs"] != nil {
		t.allFreshObjects.mutex.RLock()
		out["logs"] = append([]trackedObject(nil), t.allFreshObjects.objects...)
		t.allFreshObjects.mutex.RUnlock()
	}
	return out, nil
}
