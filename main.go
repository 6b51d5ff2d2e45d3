package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cipherchat/auth"
	"cipherchat/backend"
	"cipherchat/backend/firestoredb"
	"cipherchat/backend/memstore"
	"cipherchat/chat"
	"cipherchat/config"
	"cipherchat/crypto"
	"cipherchat/models"
	"cipherchat/notify"
	"cipherchat/storage"
)

func main() {
	peerUID := flag.String("peer", "", "participant id to open a conversation with")
	register := flag.Bool("register", false, "create a new account instead of signing in")
	flag.Parse()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	if cfg.EncryptionPassphrase == "" {
		log.Fatalf("no encryption passphrase configured; set encryption_passphrase in %s", cfgPath)
	}

	key, err := crypto.DeriveKey(cfg.EncryptionPassphrase, cfg.SaltBytes())
	if err != nil {
		log.Fatalf("startup failed while deriving message key: %v", err)
	}
	codec, err := crypto.NewCodec(key)
	if err != nil {
		log.Fatalf("startup failed while preparing message codec: %v", err)
	}

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		log.Fatalf("startup failed while resolving data directory: %v", err)
	}

	cache, dbPath, err := storage.Open(config.CacheDir(dataDir))
	if err != nil {
		log.Fatalf("startup failed while opening history cache: %v", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Printf("history cache close error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed while connecting to the document store: %v", err)
	}

	self, err := signIn(ctx, cfg, cfgPath, *register)
	if err != nil {
		log.Fatalf("startup failed while signing in: %v", err)
	}

	fmt.Printf("Account:         %s (%s)\n", self.Email, self.UID)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("History Cache:   %s\n", dbPath)

	if err := chat.EnsureProfile(ctx, store, self); err != nil {
		log.Printf("directory profile update failed: %v", err)
	}

	relay := notify.NewClient("", store)
	if cfg.PushToken != "" {
		if err := relay.RegisterToken(ctx, self.UID, cfg.PushToken, cfg.Platform); err != nil {
			log.Printf("push token registration failed: %v", err)
		}
	}

	presence := chat.NewPresenceTracker(store, self)
	if err := presence.Online(ctx); err != nil {
		log.Printf("presence update failed: %v", err)
	}
	defer func() {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := presence.Offline(offCtx); err != nil {
			log.Printf("presence update failed: %v", err)
		}
	}()

	if *peerUID == "" {
		runRoster(ctx, store, cache, self)
		return
	}
	runConversation(ctx, cfg, store, codec, cache, self, *peerUID)
}

// openStore picks the document store backing this run. A configured project
// selects Firestore; otherwise an in-memory store serves local development.
func openStore(ctx context.Context, cfg *config.ClientConfig) (backend.Store, error) {
	if cfg.FirestoreProjectID == "" {
		fmt.Println("Document Store:  in-memory (no firestore_project_id configured)")
		return memstore.New(), nil
	}

	store, err := firestoredb.New(ctx, firestoredb.Options{
		ProjectID:       cfg.FirestoreProjectID,
		CredentialsPath: cfg.CredentialsPath,
	})
	if err != nil {
		return nil, err
	}
	fmt.Printf("Document Store:  firestore project %s\n", cfg.FirestoreProjectID)
	return store, nil
}

func signIn(ctx context.Context, cfg *config.ClientConfig, cfgPath string, register bool) (models.Participant, error) {
	identity := auth.NewClient(cfg.AuthEndpoint, cfg.AuthAPIKey)

	reader := bufio.NewReader(os.Stdin)
	email := cfg.AccountEmail
	if email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return models.Participant{}, fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return models.Participant{}, fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSpace(line)

	var self models.Participant
	if register {
		self, err = identity.Register(ctx, email, password)
	} else {
		self, err = identity.Login(ctx, email, password)
	}
	if err != nil {
		return models.Participant{}, err
	}

	if cfg.AccountEmail != self.Email {
		cfg.AccountEmail = self.Email
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Printf("persisting account email failed: %v", err)
		}
	}
	return self, nil
}

// runRoster watches the participant directory until interrupted. Cached
// contacts render first; live updates replace them and refresh the cache.
func runRoster(ctx context.Context, store backend.Store, cache *storage.Store, self models.Participant) {
	if cached, err := cache.ListContacts(); err != nil {
		log.Printf("contact cache read failed: %v", err)
	} else if len(cached) > 0 {
		printContacts(cached)
	}

	roster, err := chat.OpenRoster(ctx, chat.RosterOptions{Store: store, Self: self, Cache: cache})
	if err != nil {
		log.Fatalf("opening the contact roster failed: %v", err)
	}
	defer roster.Close()

	fmt.Println("Status:          watching contacts (pass -peer <uid> to chat; Ctrl+C to stop)")
	for {
		select {
		case contacts, ok := <-roster.Updates():
			if !ok {
				return
			}
			printContacts(contacts)
		case <-ctx.Done():
			return
		}
	}
}

func printContacts(contacts []models.Contact) {
	for _, contact := range contacts {
		state := "offline"
		if contact.Online {
			state = "online"
		}
		fmt.Printf("  %s  %s  %s\n", contact.Participant.UID, contact.Participant.Email, state)
	}
}

// runConversation opens one conversation and bridges stdin lines to it.
func runConversation(ctx context.Context, cfg *config.ClientConfig, store backend.Store, codec *crypto.Codec, cache *storage.Store, self models.Participant, peerUID string) {
	conversationKey, err := chat.DeriveConversationKey(self.UID, peerUID)
	if err != nil {
		log.Fatalf("conversation setup failed: %v", err)
	}

	quiet := time.Duration(cfg.TypingQuietMS) * time.Millisecond
	typing := chat.NewTypingNotifier(store, conversationKey, self.UID, quiet)

	aggregator, err := chat.NewAggregator(chat.AggregatorOptions{
		Store:  store,
		Codec:  codec,
		Self:   self,
		Typing: typing,
		Cache:  cache,
	})
	if err != nil {
		log.Fatalf("conversation setup failed: %v", err)
	}
	if err := aggregator.Open(ctx, conversationKey); err != nil {
		log.Fatalf("opening the conversation feed failed: %v", err)
	}
	defer aggregator.Close()

	if history, err := cache.ConversationHistory(conversationKey, 0, 0); err != nil {
		log.Printf("history cache read failed: %v", err)
	} else {
		printMessages(self, history)
	}

	go func() {
		for messages := range aggregator.Updates() {
			printMessages(self, messages)
		}
	}()

	fmt.Printf("Conversation:    %s (type a line to send; Ctrl+C to stop)\n", conversationKey)
	lines := readLines(os.Stdin)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			// Stdin is line-buffered, so the typing signal brackets each
			// submitted line rather than tracking live composition.
			typing.InputChanged(line)
			if err := aggregator.Send(models.Message{Text: line}); err != nil {
				log.Printf("send failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func printMessages(self models.Participant, messages []models.Message) {
	// Newest-first in the list; print oldest-first for a terminal transcript.
	for i := len(messages) - 1; i >= 0; i-- {
		message := messages[i]
		who := message.Sender.Email
		if message.Sender.UID == self.UID {
			who = "me"
		}
		body := message.Text
		if message.IsImage() {
			body = "[image] " + message.ImageURL
		}
		fmt.Printf("[%s] %s: %s\n", message.CreatedAt.Format("15:04:05"), who, body)
	}
	fmt.Println("---")
}

func readLines(input *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}
