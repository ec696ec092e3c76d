package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"suvidha-auth-service/internal/audit"
	"suvidha-auth-service/internal/bucketing"
	"suvidha-auth-service/internal/client"
	"suvidha-auth-service/internal/config"
	"suvidha-auth-service/internal/encryption"
	redisrepo "suvidha-auth-service/internal/repository/redis"
	"suvidha-auth-service/internal/repository/scylla"
	"suvidha-auth-service/internal/service"
	"suvidha-auth-service/internal/tls"
	"suvidha-auth-service/internal/token"
	"suvidha-auth-service/internal/util"
)

// Factory wires the application together and owns the lifecycle of every
// external client. Redis is mandatory; Scylla, Kafka, and ClickHouse attach
// only when enabled, and the service degrades to mock identities and a silent
// audit trail without them.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	recorder          *audit.Recorder

	userRepository *scylla.UserRepository
	authService    *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration, initializes logging, and connects every
// configured dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(&cfg.Server)
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeManagers()
	f.initializeServices()

	util.Info("factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("scylla_enabled", cfg.Scylla.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.Bool("kms_enabled", cfg.KMS.Enabled))

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis holds the codes and sessions; without it there is no service.
	redisClient, err := client.NewRedisClient(f.config)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	var initErrors []error

	if f.config.Scylla.Enabled {
		if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = scyllaClient
			if err := f.scyllaClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			}
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed, proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("failed to load AWS config, falling back to local keys", util.ErrorField(err))
			f.config.KMS.Enabled = false
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config)

	if f.kafkaProducer != nil || f.clickhouseClient != nil {
		f.recorder = audit.NewRecorder(
			f.kafkaProducer,
			f.clickhouseClient,
			f.bucketingManager,
			f.config.Kafka.SecurityEvents,
			f.config.Clickhouse.Table,
		)
	}
}

func (f *Factory) initializeServices() {
	cfg := f.config

	otps := redisrepo.NewOTPStore(f.redisClient, cfg.OTP.TTL, cfg.OTP.MaxAttempts, cfg.OTP.LockoutTTL)
	sessions := redisrepo.NewSessionStore(f.redisClient, cfg.Session.TTL)
	codec := token.NewCodec(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, cfg.JWT.Issuer)

	var users service.UserRegistry
	if f.scyllaClient != nil {
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager)
		users = f.userRepository
	}

	f.authService = service.NewAuthService(cfg, otps, sessions, codec, users, f.recorder)
}

// Health reports per-dependency status for the health endpoint. Only
// configured dependencies appear.
func (f *Factory) Health(ctx context.Context) map[string]string {
	status := make(map[string]string)

	report := func(name string, err error) {
		if err != nil {
			status[name] = "unhealthy"
			util.Warn("dependency unhealthy", util.String("dependency", name), util.ErrorField(err))
		} else {
			status[name] = "healthy"
		}
	}

	report("redis", f.redisClient.HealthCheck(ctx))
	if f.scyllaClient != nil {
		report("scylla", f.scyllaClient.HealthCheck(ctx))
	}
	if f.kafkaProducer != nil {
		report("kafka", f.kafkaProducer.HealthCheck(ctx))
	}
	if f.clickhouseClient != nil {
		report("clickhouse", f.clickhouseClient.HealthCheck(ctx))
	}

	return status
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("shutting down factory")

		// The recorder drains into Kafka/ClickHouse, so it closes first.
		if f.recorder != nil {
			f.recorder.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}
