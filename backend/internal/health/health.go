package health

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName - имя сервиса сессий в протоколе grpc.health.v1
const ServiceName = "xbounce.Session"

// Server отдает стандартный gRPC health check для оркестратора.
// Пустое имя сервиса описывает процесс целиком.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	log    *logrus.Entry

	mu      sync.Mutex
	stopped bool
}

// New создает сервер со статусом NOT_SERVING для всех сервисов
func New(log *logrus.Entry) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetServing переключает статус процесса и сервиса сессий
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.log.Infof("[Health] Статус: %s", status)
}

// Serve блокируется до Stop. После Stop возвращает nil.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infof("[Health] gRPC health check слушает %s", lis.Addr())
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// ListenAndServe открывает TCP порт и обслуживает его
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop переводит все сервисы в NOT_SERVING и дожидается завершения вызовов
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true

	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.log.Info("[Health] gRPC health check остановлен")
}
