package montage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BuildRequest is the payload of a {prefix}/build message.
type BuildRequest struct {
	Inputs []string `json:"inputs"`
}

// BuildHandler is called for every valid build request
type BuildHandler func(req BuildRequest)

// MQTTClient manages the MQTT connection and the build-request subscription
type MQTTClient struct {
	client       mqtt.Client
	config       *Config
	prefix       string
	buildHandler BuildHandler
	isConnected  bool
	mu           sync.RWMutex
}

// InitMQTT creates the MQTT client. If neither MQTT_BROKER nor the config
// name a broker, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler BuildHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] Disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}

	client := &MQTTClient{
		config:       config,
		prefix:       publishPrefix(config),
		buildHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "eegmontage"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)

	// builds are long; one at a time, in arrival order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// publishPrefix resolves the topic prefix: env, then config, then default
func publishPrefix(config *Config) string {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" && config != nil {
		prefix = config.MQTT.PublishPrefix
	}
	if prefix == "" {
		prefix = "eegmontage"
	}
	return strings.TrimSuffix(prefix, "/")
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// BuildTopic is the topic carrying build requests
func (c *MQTTClient) BuildTopic() string {
	return c.prefix + "/build"
}

// onConnect subscribes to the build topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if err := c.subscribeBuild(client); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

// SubscribeBuild subscribes the wrapped client to the build topic. The
// connect handler does this on every (re)connect.
func (c *MQTTClient) SubscribeBuild() error {
	return c.subscribeBuild(c.client)
}

func (c *MQTTClient) subscribeBuild(client mqtt.Client) error {
	topic := c.BuildTopic()
	log.Printf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleBuild)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	log.Printf("[MQTT] Subscribed to %s", topic)
	return nil
}

// onConnectionLost is called when the MQTT connection is lost
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// handleBuild decodes a build request. The payload is either a JSON object
// {"inputs": [...]} or a bare JSON array of inputs.
func (c *MQTTClient) handleBuild(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("[MQTT] Received build request (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

	req, err := ParseBuildRequest(payload)
	if err != nil {
		log.Printf("[MQTT] Ignoring build request: %v", err)
		return
	}

	c.mu.RLock()
	handler := c.buildHandler
	c.mu.RUnlock()
	if handler != nil {
		handler(req)
	}
}

// ParseBuildRequest decodes a build request payload
func ParseBuildRequest(payload []byte) (BuildRequest, error) {
	var req BuildRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		var inputs []string
		if err2 := json.Unmarshal(payload, &inputs); err2 != nil {
			return BuildRequest{}, fmt.Errorf("parsing build request: %w", err)
		}
		req.Inputs = inputs
	}
	if len(req.Inputs) == 0 {
		return BuildRequest{}, fmt.Errorf("%w: build request has no inputs", ErrInvalidInput)
	}
	return req, nil
}

// SetBuildHandler replaces the build handler
func (c *MQTTClient) SetBuildHandler(handler BuildHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buildHandler = handler
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// Prefix returns the topic prefix
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// NewMQTTClientWithMock wraps an existing mqtt.Client (e.g. a MockClient)
func NewMQTTClientWithMock(client mqtt.Client, config *Config, handler BuildHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		prefix:       publishPrefix(config),
		buildHandler: handler,
	}
}
